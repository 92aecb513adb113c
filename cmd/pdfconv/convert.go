package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"convertly/web/internal/convert"
	"convertly/web/internal/observability"
)

type convertOptions struct {
	Input   string
	Formats []string
	OutDir  string
	Soffice string
	Timeout time.Duration
	Verbose bool
}

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF to DOCX and/or TXT",
	Long: `Convert reads a PDF and writes the requested formats into --out-dir.
One format is written as <name>.docx or <name>.txt; several formats are
bundled into <name>_converted.zip. A failing format is reported and the
others still run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := convertOptions{
			Input:   args[0],
			Formats: formatFlags(viper.GetStringSlice("format")),
			OutDir:  viper.GetString("out-dir"),
			Soffice: viper.GetString("soffice"),
			Timeout: viper.GetDuration("timeout"),
			Verbose: viper.GetBool("verbose"),
		}
		_, err := runConvert(cmd.Context(), opts, defaultConverters(opts), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return err
	},
}

func init() {
	convertCmd.Flags().StringSlice("format", []string{"docx"}, "output format, repeatable: docx, txt")
	convertCmd.Flags().String("out-dir", ".", "directory for the converted file")
	convertCmd.Flags().String("soffice", "soffice", "path to the LibreOffice binary")
	convertCmd.Flags().Duration("timeout", 2*time.Minute, "per-format conversion timeout")
	convertCmd.Flags().BoolP("verbose", "v", false, "log pipeline stages to stderr")

	for _, name := range []string{"format", "out-dir", "soffice", "timeout", "verbose"} {
		_ = viper.BindPFlag(name, convertCmd.Flags().Lookup(name))
	}

	rootCmd.AddCommand(convertCmd)
}

// formatFlags accepts comma or space separated values in any case, as
// PDFCONV_FORMAT arrives as one string.
func formatFlags(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, f := range strings.Split(v, ",") {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

func defaultConverters(opts convertOptions) map[convert.Format]convert.Converter {
	return map[convert.Format]convert.Converter{
		convert.FormatDOCX: convert.NewDocxConverter(opts.Soffice),
		convert.FormatTXT:  convert.NewTextExtractor(),
	}
}

// runConvert drives the same pipeline as the web handler inside a private
// scratch workspace and copies the artifact into opts.OutDir.
func runConvert(ctx context.Context, opts convertOptions, converters map[convert.Format]convert.Converter, stdout, stderr io.Writer) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}

	src, err := os.Open(opts.Input)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer src.Close()

	scratch, err := os.MkdirTemp("", "pdfconv-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	log := observability.Discard()
	if opts.Verbose {
		log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ws, err := convert.NewWorkspace(filepath.Join(scratch, "uploads"), filepath.Join(scratch, "converted"))
	if err != nil {
		return "", err
	}
	dispatcher, err := convert.NewDispatcher(converters, opts.Timeout, log)
	if err != nil {
		return "", err
	}
	svc, err := convert.NewService(ws, dispatcher, log)
	if err != nil {
		return "", err
	}

	res, err := svc.Convert(ctx, filepath.Base(opts.Input), src, opts.Formats)
	if res != nil {
		for _, f := range res.Failures {
			fmt.Fprintf(stderr, "error converting to %s: %v\n", strings.ToUpper(string(f.Format)), f.Err)
		}
	}
	if err != nil {
		if errors.Is(err, convert.ErrNoOutput) {
			return "", fmt.Errorf("no output format selected or conversion failed")
		}
		return "", err
	}
	defer func() { _ = res.Artifact.Cleanup() }()

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}
	dst := filepath.Join(opts.OutDir, res.Artifact.Name)
	if err := copyFile(res.Artifact.Path, dst); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	fmt.Fprintln(stdout, dst)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
