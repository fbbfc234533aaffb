package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

func TestNewLogger(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogger_Levels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestLogger_Fields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("event ingested",
		membertrack.Field{Key: "source_event_id", Value: "msg-1"},
		membertrack.Field{Key: "inserted", Value: true},
	)

	got := output.String()
	if !strings.Contains(got, `"source_event_id":"msg-1"`) {
		t.Errorf("output missing field: %s", got)
	}
	if !strings.Contains(got, `"inserted":true`) {
		t.Errorf("output missing bool field: %s", got)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")
	if output.Len() != 0 {
		t.Error("expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	if output.Len() == 0 {
		t.Error("expected warn to be logged")
	}
}
