package convert

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

const pdfExt = ".pdf"

// ValidateFilename returns the base name of an uploaded file or a
// validation error. The check is on the literal ".pdf" suffix.
func ValidateFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", ErrNoSelectedFile
	}
	// Some clients send a full client-side path.
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" {
		return "", ErrNoSelectedFile
	}
	if !strings.HasSuffix(name, pdfExt) || strings.TrimSuffix(name, pdfExt) == "" {
		return "", ErrInvalidFileType
	}
	return name, nil
}

// SaveUpload persists the uploaded bytes to the job's intake path.
func (j *Job) SaveUpload(src io.Reader) error {
	f, err := os.OpenFile(j.InputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create intake file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("write intake file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close intake file: %w", err)
	}
	return nil
}
