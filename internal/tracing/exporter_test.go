package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []SpanRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func recordSpans(t *testing.T, fn func(trace.Tracer)) []sdktrace.ReadOnlySpan {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	fn(tp.Tracer("test"))
	return rec.Ended()
}

func TestFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
}

func TestFileExporter_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"existing"}`+"\n"), 0o600))

	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	spans := recordSpans(t, func(tr trace.Tracer) {
		_, span := tr.Start(context.Background(), "provisioning.apply")
		span.End()
	})
	require.NoError(t, exp.ExportSpans(context.Background(), spans))
	require.NoError(t, exp.Shutdown(context.Background()))

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	require.Equal(t, "existing", recs[0].Name)
	require.Equal(t, "provisioning.apply", recs[1].Name)
}

func TestFileExporter_RecordFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	spans := recordSpans(t, func(tr trace.Tracer) {
		ctx, parent := tr.Start(context.Background(), "provisioning.remove")
		_, child := tr.Start(ctx, "repo.delete")
		child.SetAttributes(attribute.String(AttrPvDID, "net-a.example."))
		child.AddEvent(EventPersistFailed, trace.WithAttributes(attribute.Int(AttrAttributeCount, 2)))
		child.RecordError(errors.New("disk full"))
		child.SetStatus(codes.Error, "disk full")
		child.End()
		parent.SetStatus(codes.Ok, "")
		parent.End()
	})
	require.NoError(t, exp.ExportSpans(context.Background(), spans))
	require.NoError(t, exp.Shutdown(context.Background()))

	recs := readRecords(t, path)
	require.Len(t, recs, 2)

	child, parent := recs[0], recs[1]
	require.Equal(t, "repo.delete", child.Name)
	require.Equal(t, parent.SpanID, child.ParentSpanID)
	require.Equal(t, parent.TraceID, child.TraceID)
	require.Equal(t, "ERROR", child.Status)
	require.Equal(t, "disk full", child.StatusMsg)
	require.Equal(t, "net-a.example.", child.Attributes[AttrPvDID])

	var names []string
	for _, ev := range child.Events {
		names = append(names, ev.Name)
	}
	require.Contains(t, names, EventPersistFailed)

	require.Equal(t, "OK", parent.Status)
	require.Empty(t, parent.ParentSpanID)
}

func TestFileExporter_ExportAfterShutdown(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()), "shutdown is idempotent")

	spans := recordSpans(t, func(tr trace.Tracer) {
		_, span := tr.Start(context.Background(), "late")
		span.End()
	})
	require.Error(t, exp.ExportSpans(context.Background(), spans))
}
