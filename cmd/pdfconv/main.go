// Command pdfconv runs the PDF conversion pipeline from the command line,
// without the web server.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pdfconv",
	Short: "Convert PDF files to Word and plain text",
	Long: `pdfconv converts PDF documents to DOCX (through a headless LibreOffice)
and to plain text. Requesting several formats produces a single ZIP archive.

Flags can also be set in pdfconv.yaml or through PDFCONV_* environment
variables, e.g. PDFCONV_SOFFICE=/usr/bin/libreoffice.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./pdfconv.yaml or ~/.config/pdfconv/pdfconv.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pdfconv")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "pdfconv"))
		}
	}

	viper.SetEnvPrefix("PDFCONV")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
