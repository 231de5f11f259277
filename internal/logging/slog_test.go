package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(t *testing.T, level slog.Level) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)
	ctx := context.Background()

	log.Debug(ctx, "parcel disregarded", "reason", "malformed")
	log.Info(ctx, "endpoint registered", "endpoint_id", "0abc")
	log.Warn(ctx, "collecting parcels", "error", "eof")
	log.Error(ctx, "resolving parcel", "error", "boom")

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", `msg="parcel disregarded"`, "reason=malformed",
		"level=INFO", "endpoint_id=0abc",
		"level=WARN", "error=eof",
		"level=ERROR", "error=boom",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_FiltersBelowLevel(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelInfo)
	log.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelInfo)

	log.With("module", "gateway").Info(context.Background(), "bound to relay", "generation", 1)

	out := buf.String()
	assert.Contains(t, out, "module=gateway")
	assert.Contains(t, out, "generation=1")
	assert.Same(t, log.Slog(), log.Slog())
}
