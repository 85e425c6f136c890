package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func TestNewLogger(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLoggerLevels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected log output for all levels")
	}
}

func TestLoggerFields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("webhook applied",
		payments.Field{Key: "gateway", Value: "paymob"},
		payments.Field{Key: "event_id", Value: "9001"},
		payments.Field{Key: "amount", Value: 15000},
	)

	var entry map[string]any
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v", err)
	}
	if entry["message"] != "webhook applied" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
	if entry["gateway"] != "paymob" || entry["event_id"] != "9001" {
		t.Errorf("Expected fields to be emitted, got %v", entry)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")
	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")
	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}
