package httpserver

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"

	"convertly/web/internal/convert"
)

// Parts above this size are spooled to disk by the multipart reader.
const multipartMemory = 8 << 20

func (h *handler) registerConvertHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if h.deps.Convert == nil {
			writeError(w, http.StatusServiceUnavailable, "conversion service unavailable")
			return
		}
		actor := ""
		if session, ok := h.currentSession(r); ok {
			actor = session.Username
		}

		if h.deps.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.rejectUpload(w, r, actor, convert.ErrUploadTooLarge)
				return
			}
			h.rejectUpload(w, r, actor, convert.ErrNoFilePart)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, hdr, err := r.FormFile("file")
		if err != nil {
			// A file input submitted with nothing chosen arrives as a plain
			// value with an empty filename.
			if _, ok := r.MultipartForm.Value["file"]; ok {
				h.rejectUpload(w, r, actor, convert.ErrNoSelectedFile)
				return
			}
			h.rejectUpload(w, r, actor, convert.ErrNoFilePart)
			return
		}
		defer file.Close()

		res, err := h.deps.Convert.Convert(r.Context(), hdr.Filename, file, r.MultipartForm.Value["output_format"])
		if err != nil {
			switch {
			case convert.IsValidation(err):
				h.rejectUpload(w, r, actor, err)
			case errors.Is(err, convert.ErrNoOutput):
				auditReq(h.deps.Audit, r, actor, "convert.request", hdr.Filename, "failed", "", "no output")
				fl := failureFlashes(res)
				fl = append(fl, flash{Category: "danger", Message: "No output format selected or conversion failed."})
				h.redirectWithFlash(w, r, "/", fl...)
			default:
				h.log.Error("conversion failed", "filename", hdr.Filename, "err", err)
				auditReq(h.deps.Audit, r, actor, "convert.request", hdr.Filename, "failed", "", err.Error())
				h.render(w, r, http.StatusInternalServerError, pageIndex, "PDF Converter",
					append(failureFlashes(res), flash{Category: "danger", Message: "Could not prepare the converted files."})...)
			}
			return
		}

		auditReq(h.deps.Audit, r, actor, "convert.request", hdr.Filename, "success", "", "job="+res.JobID)
		setFlashes(w, r, failureFlashes(res)...)
		h.sendArtifact(w, r, res)
	})
}

func (h *handler) rejectUpload(w http.ResponseWriter, r *http.Request, actor string, err error) {
	var msg string
	switch {
	case errors.Is(err, convert.ErrNoFilePart):
		msg = "No file part"
	case errors.Is(err, convert.ErrNoSelectedFile):
		msg = "No selected file"
	case errors.Is(err, convert.ErrInvalidFileType):
		msg = "Invalid file type. Please upload a PDF."
	case errors.Is(err, convert.ErrUploadTooLarge):
		msg = "File is too large."
	default:
		msg = "Upload rejected."
	}
	auditReq(h.deps.Audit, r, actor, "convert.request", "", "rejected", "", err.Error())
	h.redirectWithFlash(w, r, "/", flash{Category: "danger", Message: msg})
}

// sendArtifact streams the result as an attachment and then removes it.
func (h *handler) sendArtifact(w http.ResponseWriter, r *http.Request, res *convert.Result) {
	art := res.Artifact
	defer func() {
		if err := art.Cleanup(); err != nil {
			h.log.Warn("artifact cleanup failed", "job_id", res.JobID, "err", err)
			return
		}
		h.log.Info("conversion stage", "job_id", res.JobID, "stage", string(convert.StageCleaned))
	}()

	f, err := os.Open(art.Path)
	if err != nil {
		h.log.Error("open artifact failed", "job_id", res.JobID, "err", err)
		writeError(w, http.StatusInternalServerError, "converted file unavailable")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		h.log.Error("stat artifact failed", "job_id", res.JobID, "err", err)
		writeError(w, http.StatusInternalServerError, "converted file unavailable")
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	http.ServeContent(w, r, art.Name, st.ModTime(), f)
	h.log.Info("conversion stage", "job_id", res.JobID, "stage", string(convert.StageSent))
}

// Flash details are clipped; all flashes share one cookie.
const maxFlashDetail = 160

func failureFlashes(res *convert.Result) []flash {
	if res == nil {
		return nil
	}
	out := make([]flash, 0, len(res.Failures))
	for _, f := range res.Failures {
		out = append(out, flash{
			Category: "danger",
			Message:  fmt.Sprintf("Error converting to %s: %s", strings.ToUpper(string(f.Format)), clip(f.Err.Error(), maxFlashDetail)),
		})
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
