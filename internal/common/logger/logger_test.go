package logger

import (
	"context"
	"testing"
)

func TestSetLevelAffectsDerivedLoggers(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	child := log.WithAgentID("agent-1")

	if log.Level() != "info" {
		t.Fatalf("expected initial level info, got %s", log.Level())
	}
	if err := child.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if log.Level() != "debug" {
		t.Errorf("expected SetLevel on a derived logger to affect the parent, got %s", log.Level())
	}
}

func TestSetLevelRejectsUnknownLevel(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if err := log.SetLevel("not-a-level"); err == nil {
		t.Error("expected an error for an unrecognized level")
	}
}

func TestWithContextAddsCorrelationAndRequestID(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-1")
	ctx = context.WithValue(ctx, RequestIDKey, "req-1")

	withCtx := log.WithContext(ctx)
	if len(withCtx.fields) != 2 {
		t.Errorf("expected 2 fields from context, got %d", len(withCtx.fields))
	}

	unchanged := log.WithContext(context.Background())
	if unchanged != log {
		t.Error("expected WithContext to return the same logger when context has no known values")
	}
}
