package convert

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Stage string

const (
	StageReceived       Stage = "received"
	StageValidated      Stage = "validated"
	StageDispatched     Stage = "dispatched"
	StagePackaged       Stage = "packaged"
	StageSent           Stage = "sent"
	StageCleaned        Stage = "cleaned"
	StageRejected       Stage = "rejected"
	StageFailedNoOutput Stage = "failed_no_output"
)

// Workspace owns the intake and output roots. Every job gets its own
// subdirectory under each, named by the job id.
type Workspace struct {
	uploadDir    string
	convertedDir string
}

func NewWorkspace(uploadDir, convertedDir string) (*Workspace, error) {
	uploadDir = strings.TrimSpace(uploadDir)
	convertedDir = strings.TrimSpace(convertedDir)
	if uploadDir == "" || convertedDir == "" {
		return nil, fmt.Errorf("upload and converted dirs are required")
	}
	for _, dir := range []string{uploadDir, convertedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return &Workspace{uploadDir: uploadDir, convertedDir: convertedDir}, nil
}

func (w *Workspace) ConvertedDir() string {
	return w.convertedDir
}

// Job is the per-request conversion context. It is not shared across requests.
type Job struct {
	ID        string
	InputName string
	InputPath string
	WorkDir   string
	Outputs   []string
	Failures  []*ConversionError
	Stage     Stage

	intakeDir string
}

// NewJob validates filename and allocates the job's directories.
func (w *Workspace) NewJob(filename string) (*Job, error) {
	name, err := ValidateFilename(filename)
	if err != nil {
		return nil, err
	}

	id, err := newJobID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	j := &Job{
		ID:        id,
		InputName: name,
		WorkDir:   filepath.Join(w.convertedDir, id),
		Stage:     StageValidated,
		intakeDir: filepath.Join(w.uploadDir, id),
	}
	j.InputPath = filepath.Join(j.intakeDir, name)

	if err := os.MkdirAll(j.intakeDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir intake dir: %w", err)
	}
	if err := os.MkdirAll(j.WorkDir, 0o755); err != nil {
		_ = os.RemoveAll(j.intakeDir)
		return nil, fmt.Errorf("mkdir work dir: %w", err)
	}
	return j, nil
}

// BaseName is the input filename without its .pdf extension.
func (j *Job) BaseName() string {
	return strings.TrimSuffix(j.InputName, pdfExt)
}

func (j *Job) OutputPath(f Format) string {
	return filepath.Join(j.WorkDir, j.BaseName()+f.Ext())
}

// RemoveInput deletes the uploaded file and its intake directory.
func (j *Job) RemoveInput() error {
	if err := os.RemoveAll(j.intakeDir); err != nil {
		return fmt.Errorf("remove intake dir: %w", err)
	}
	return nil
}

// RemoveWorkDir deletes the output directory. Safe to call repeatedly.
func (j *Job) RemoveWorkDir() error {
	if err := os.RemoveAll(j.WorkDir); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}
	return nil
}

// Cleanup removes everything the job created on disk.
func (j *Job) Cleanup() error {
	err := errors.Join(j.RemoveInput(), j.RemoveWorkDir())
	if err == nil {
		j.Stage = StageCleaned
	}
	return err
}

func newJobID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
