package convert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherLogsToolOutputOutsideError(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))

	noisy := strings.Repeat("javaldx: Could not find a Java Runtime Environment! ", 100)
	failing := failingConverter(&CommandError{Tool: "soffice", Err: errors.New("exit status 81"), Output: noisy})
	d, err := NewDispatcher(map[Format]Converter{
		FormatDOCX: failing,
		FormatTXT:  writeConverter("text"),
	}, time.Second, log)
	require.NoError(t, err)

	ws := newTestWorkspace(t)
	job, err := ws.NewJob("report.pdf")
	require.NoError(t, err)
	require.NoError(t, job.SaveUpload(strings.NewReader("%PDF-1.4")))

	require.NoError(t, d.Dispatch(context.Background(), job, []Format{FormatDOCX, FormatTXT}))
	require.Len(t, job.Failures, 1)
	assert.Equal(t, "convert to DOCX: soffice: exit status 81", job.Failures[0].Error())
	assert.Contains(t, logs.String(), `"output":"javaldx: Could not find a Java Runtime Environment!`)
}
