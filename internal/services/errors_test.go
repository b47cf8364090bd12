package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"avatarreel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrEncoding, "encode", "mux", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrEncoding) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encode", "mux", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "animate", "", "", nil)
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference marker, got %v", err)
	}
}

func TestDetailsSurvivesOuterWrapping(t *testing.T) {
	inner := services.Wrap(services.ErrNotFound, "audio", "load", "audio file missing", errors.New("stat"))
	outer := fmt.Errorf("run: %w", inner)

	details := services.Details(outer)
	if details.Stage != "audio" {
		t.Fatalf("expected audio stage, got %q", details.Stage)
	}
	if details.Kind != "NotFound" {
		t.Fatalf("expected NotFound kind, got %q", details.Kind)
	}
	if details.Operation != "load" {
		t.Fatalf("unexpected operation %q", details.Operation)
	}
	if services.StageOf(outer) != "audio" {
		t.Fatalf("unexpected stage %q", services.StageOf(outer))
	}
}

func TestKindNameForUnwrappedError(t *testing.T) {
	if name := services.KindName(errors.New("plain")); name != "" {
		t.Fatalf("expected empty kind for plain error, got %q", name)
	}
	if services.Marker(errors.New("plain")) != nil {
		t.Fatal("expected nil marker for plain error")
	}
	wrapped := fmt.Errorf("outer: %w", services.ErrModelUnavailable)
	if name := services.KindName(wrapped); name != "ModelUnavailable" {
		t.Fatalf("unexpected kind %q", name)
	}
}
