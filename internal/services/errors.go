package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrInference         = errors.New("inference error")
	ErrEncoding          = errors.New("encoding error")
)

var kindNames = []struct {
	marker error
	name   string
}{
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrNotFound, "NotFound"},
	{ErrUnsupportedFormat, "UnsupportedFormat"},
	{ErrDeviceUnavailable, "DeviceUnavailable"},
	{ErrModelUnavailable, "ModelUnavailable"},
	{ErrInference, "InferenceError"},
	{ErrEncoding, "EncodingError"},
}

// StageError tags a failure with the pipeline stage that detected it, the
// error kind marker, and the underlying cause. Both the marker and the cause
// are reachable through errors.Is / errors.As.
type StageError struct {
	Stage     string
	Operation string
	Message   string
	Kind      error
	Cause     error
}

func (e *StageError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Kind, detail)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Wrap builds a StageError carrying the provided marker. The marker should be
// one of the exported sentinel errors above; nil falls back to ErrInference.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrInference
	}
	return &StageError{
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Kind:      marker,
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a stage failure used for logging and
// CLI reporting.
type ErrorDetails struct {
	Stage     string
	Operation string
	Message   string
	Kind      string
	Cause     error
}

// Details extracts the outermost StageError information from err. Errors that
// were never wrapped report only their message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		return ErrorDetails{Message: err.Error(), Kind: KindName(err)}
	}
	return ErrorDetails{
		Stage:     stageErr.Stage,
		Operation: stageErr.Operation,
		Message:   stageErr.Message,
		Kind:      KindName(stageErr.Kind),
		Cause:     stageErr.Cause,
	}
}

// KindName returns the error-kind label for err, or an empty string when err
// carries none of the known markers.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return ""
}

// Marker returns the kind sentinel carried by err, or nil.
func Marker(err error) error {
	for _, k := range kindNames {
		if errors.Is(err, k.marker) {
			return k.marker
		}
	}
	return nil
}

// StageOf reports the stage recorded on the outermost StageError in err.
func StageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
