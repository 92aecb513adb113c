package httpserver

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"convertly/web/internal/convert"
	"convertly/web/internal/observability"
)

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

type testConversion struct {
	svc          *convert.Service
	uploadDir    string
	convertedDir string
}

func newTestConversion(t *testing.T, converters map[convert.Format]convert.Converter) testConversion {
	t.Helper()
	root := t.TempDir()
	tc := testConversion{
		uploadDir:    filepath.Join(root, "uploads"),
		convertedDir: filepath.Join(root, "converted"),
	}
	ws, err := convert.NewWorkspace(tc.uploadDir, tc.convertedDir)
	if err != nil {
		t.Fatalf("NewWorkspace() error: %v", err)
	}
	d, err := convert.NewDispatcher(converters, time.Second, observability.Discard())
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}
	tc.svc, err = convert.NewService(ws, d, observability.Discard())
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return tc
}

func (tc testConversion) assertEmpty(t *testing.T) {
	t.Helper()
	for _, dir := range []string{tc.uploadDir, tc.convertedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
		}
	}
}

func staticConverter(content string) convert.Converter {
	return convert.ConverterFunc(func(_ context.Context, _, out string) error {
		return os.WriteFile(out, []byte(content), 0o644)
	})
}

var bothFormats = map[convert.Format]convert.Converter{
	convert.FormatDOCX: staticConverter("docx-body"),
	convert.FormatTXT:  staticConverter("text-body"),
}

func uploadRequest(t *testing.T, filename string, withFile bool, formats ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if withFile {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error: %v", err)
		}
		_, _ = fw.Write([]byte("%PDF-1.4 test"))
	}
	for _, f := range formats {
		_ = mw.WriteField("output_format", f)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func attachmentName(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	disp, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse Content-Disposition: %v", err)
	}
	if disp != "attachment" {
		t.Fatalf("expected attachment disposition, got %q", disp)
	}
	return params["filename"]
}

func TestConvertSingleFormatDownload(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	audit := &fakeAudit{}
	handler := NewHandler(Deps{Convert: tc.svc, Audit: audit})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "My Report.pdf", true, "txt"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := attachmentName(t, rec); got != "My Report.txt" {
		t.Fatalf("expected attachment My Report.txt, got %q", got)
	}
	if rec.Body.String() != "text-body" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !audit.has("convert.request", "success") {
		t.Fatalf("expected convert.request audit event")
	}
	tc.assertEmpty(t)
}

func TestConvertMultipleFormatsDownloadsFlatZip(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	handler := NewHandler(Deps{Convert: tc.svc})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "scan.pdf", true, "docx", "txt", "csv"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := attachmentName(t, rec); got != "scan_converted.zip" {
		t.Fatalf("expected attachment scan_converted.zip, got %q", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "scan.docx" || names[1] != "scan.txt" {
		t.Fatalf("unexpected zip entries %v", names)
	}
	tc.assertEmpty(t)
}

func TestConvertUnknownFormatOnly(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	handler := NewHandler(Deps{Convert: tc.svc})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "scan.pdf", true, "csv"))

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if !hasFlash(flashesFrom(t, rec), "No output format selected or conversion failed.") {
		t.Fatalf("expected no-output flash, got %+v", flashesFrom(t, rec))
	}
	tc.assertEmpty(t)
}

func TestConvertPartialFailureFlashesAndDownloads(t *testing.T) {
	tc := newTestConversion(t, map[convert.Format]convert.Converter{
		convert.FormatDOCX: convert.ConverterFunc(func(context.Context, string, string) error {
			return errors.New("layout engine crashed")
		}),
		convert.FormatTXT: staticConverter("text-body"),
	})
	handler := NewHandler(Deps{Convert: tc.svc})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "scan.pdf", true, "docx", "txt"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := attachmentName(t, rec); got != "scan.txt" {
		t.Fatalf("expected attachment scan.txt, got %q", got)
	}
	if !hasFlash(flashesFrom(t, rec), "Error converting to DOCX: layout engine crashed") {
		t.Fatalf("expected DOCX failure flash, got %+v", flashesFrom(t, rec))
	}
	tc.assertEmpty(t)
}

func TestConvertFailureFlashIsClipped(t *testing.T) {
	noisy := strings.Repeat("Error: source file could not be loaded ", 200)
	tc := newTestConversion(t, map[convert.Format]convert.Converter{
		convert.FormatDOCX: convert.ConverterFunc(func(context.Context, string, string) error {
			return errors.New(noisy)
		}),
		convert.FormatTXT: staticConverter("text-body"),
	})
	handler := NewHandler(Deps{Convert: tc.svc})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "scan.pdf", true, "docx", "txt"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	c := cookieNamed(rec, flashCookieName)
	if c == nil {
		t.Fatalf("expected flash cookie")
	}
	if len(c.String()) > 4096 {
		t.Fatalf("flash cookie is %d bytes; browsers drop cookies over 4KB", len(c.String()))
	}
	flashes := flashesFrom(t, rec)
	if len(flashes) != 1 || !strings.HasPrefix(flashes[0].Message, "Error converting to DOCX: Error: source file") ||
		!strings.HasSuffix(flashes[0].Message, "...") {
		t.Fatalf("expected one clipped DOCX flash, got %+v", flashes)
	}
}

func TestConvertRejectsBadUploads(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	handler := NewHandler(Deps{Convert: tc.svc, MaxUploadBytes: 1 << 20})

	cases := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"no file part", uploadRequest(t, "", false, "txt"), "No file part"},
		{"no selected file", uploadRequest(t, "", true, "txt"), "No selected file"},
		{"wrong extension", uploadRequest(t, "notes.txt", true, "txt"), "Invalid file type. Please upload a PDF."},
		{"not multipart", formRequest(http.MethodPost, "/convert", nil), "No file part"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, c.req)

			if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
				t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
			}
			if !hasFlash(flashesFrom(t, rec), c.want) {
				t.Fatalf("expected flash %q, got %+v", c.want, flashesFrom(t, rec))
			}
		})
	}
	tc.assertEmpty(t)
}

func TestConvertRejectsOversizedUpload(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	handler := NewHandler(Deps{Convert: tc.svc, MaxUploadBytes: 64})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "big.pdf", true, "txt", "docx"))

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	tc.assertEmpty(t)
}

func TestConvertIsPublic(t *testing.T) {
	tc := newTestConversion(t, bothFormats)
	handler := NewHandler(Deps{Convert: tc.svc, Auth: fakeAuthService{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "doc.pdf", true, "docx"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected anonymous conversion to succeed, got %d", rec.Code)
	}
	if got := attachmentName(t, rec); got != "doc.docx" {
		t.Fatalf("expected attachment doc.docx, got %q", got)
	}
}
