package convert

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	contentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	contentTypeTXT  = "text/plain; charset=utf-8"
	contentTypeZIP  = "application/zip"
)

// Artifact is the single file handed back to the client.
type Artifact struct {
	Path        string
	Name        string
	ContentType string

	cleanup func() error
}

// Cleanup removes whatever is left on disk for the artifact. It is safe
// to call more than once and never fails on already-missing files.
func (a *Artifact) Cleanup() error {
	if a == nil || a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}

// Package turns a job's outputs into one downloadable artifact. More than
// one output is zipped flat into archiveDir and the working directory is
// removed straight away.
func Package(job *Job, archiveDir string) (*Artifact, error) {
	switch len(job.Outputs) {
	case 0:
		return nil, ErrNoOutput
	case 1:
		out := job.Outputs[0]
		job.Stage = StagePackaged
		return &Artifact{
			Path:        out,
			Name:        filepath.Base(out),
			ContentType: contentTypeFor(out),
			cleanup:     job.RemoveWorkDir,
		}, nil
	}

	zipPath := filepath.Join(archiveDir, job.ID+".zip")
	if err := writeZip(zipPath, job.Outputs); err != nil {
		_ = os.Remove(zipPath)
		_ = job.RemoveWorkDir()
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	if err := job.RemoveWorkDir(); err != nil {
		_ = os.Remove(zipPath)
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}

	job.Stage = StagePackaged
	return &Artifact{
		Path:        zipPath,
		Name:        job.BaseName() + "_converted.zip",
		ContentType: contentTypeZIP,
		cleanup:     func() error { return removeFile(zipPath) },
	}, nil
}

func writeZip(path string, files []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, name := range files {
		if err := addZipEntry(zw, name); err != nil {
			_ = zw.Close()
			_ = f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func addZipEntry(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	st, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(st)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func contentTypeFor(path string) string {
	switch Format(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case FormatDOCX:
		return contentTypeDOCX
	case FormatTXT:
		return contentTypeTXT
	default:
		return "application/octet-stream"
	}
}
