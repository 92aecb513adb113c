package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// DocxConverter drives a headless LibreOffice to rebuild a PDF as an
// editable Word document.
type DocxConverter struct {
	bin  string
	exec executor
}

func NewDocxConverter(sofficePath string) *DocxConverter {
	return newDocxConverter(sofficePath, osExecutor{})
}

func newDocxConverter(sofficePath string, exec executor) *DocxConverter {
	if strings.TrimSpace(sofficePath) == "" {
		sofficePath = "soffice"
	}
	return &DocxConverter{bin: sofficePath, exec: exec}
}

// Available reports whether the soffice binary can be found.
func (c *DocxConverter) Available() bool {
	_, err := c.exec.LookPath(c.bin)
	return err == nil
}

// Convert writes into a private scratch dir next to outputPath and renames
// the result into place, so a failed run never leaves a partial file.
func (c *DocxConverter) Convert(ctx context.Context, inputPath, outputPath string) error {
	scratch, err := os.MkdirTemp(filepath.Dir(outputPath), ".soffice-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	args := []string{
		"--headless",
		"--infilter=writer_pdf_import",
		"--convert-to", "docx",
		"--outdir", scratch,
		inputPath,
	}
	out, err := c.exec.Run(ctx, c.bin, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("soffice: %w", ctxErr)
		}
		return &CommandError{Tool: "soffice", Err: err, Output: strings.TrimSpace(string(out))}
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	produced := filepath.Join(scratch, base+FormatDOCX.Ext())
	if _, err := os.Stat(produced); err != nil {
		return &CommandError{Tool: "soffice", Err: errors.New("produced no document"), Output: strings.TrimSpace(string(out))}
	}
	if err := os.Rename(produced, outputPath); err != nil {
		return fmt.Errorf("move docx into place: %w", err)
	}
	return nil
}
