// Package convert turns uploaded PDFs into DOCX and plain-text documents.
// A request becomes a Job with its own intake and working directories,
// is dispatched to one Converter per requested format, and is packaged
// into a single downloadable Artifact.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

type Result struct {
	JobID    string
	Artifact *Artifact
	Failures []*ConversionError
}

type Service struct {
	ws         *Workspace
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewService(ws *Workspace, dispatcher *Dispatcher, log *slog.Logger) (*Service, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{ws: ws, dispatcher: dispatcher, log: log}, nil
}

// Convert runs one upload through intake, dispatch and packaging. When no
// output could be produced the returned Result still carries the
// per-format failures alongside ErrNoOutput. Nothing is left on disk
// except the returned Artifact, which the caller must Cleanup.
func (s *Service) Convert(ctx context.Context, filename string, src io.Reader, tokens []string) (*Result, error) {
	s.log.Debug("conversion stage", "stage", string(StageReceived), "filename", filename)

	job, err := s.ws.NewJob(filename)
	if err != nil {
		s.log.Info("conversion stage", "stage", string(StageRejected), "filename", filename, "err", err)
		return nil, err
	}
	s.stage(job)

	if err := job.SaveUpload(src); err != nil {
		_ = job.Cleanup()
		job.Stage = StageRejected
		s.stage(job)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	formats := ParseFormats(tokens)
	derr := s.dispatcher.Dispatch(ctx, job, formats)
	s.stage(job)

	res := &Result{JobID: job.ID, Failures: job.Failures}
	if derr != nil {
		return res, derr
	}

	art, err := Package(job, s.ws.ConvertedDir())
	if err != nil {
		s.log.Error("packaging failed", "job_id", job.ID, "err", err)
		return res, err
	}
	s.stage(job)
	res.Artifact = art
	return res, nil
}

func (s *Service) stage(job *Job) {
	s.log.Info("conversion stage", "job_id", job.ID, "stage", string(job.Stage))
}
