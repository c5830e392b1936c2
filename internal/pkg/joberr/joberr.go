// Package joberr classifies pipeline failures so the job loop can decide
// between failing, repairing, retrying, placeholdering or skipping.
package joberr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInput      Kind = "input"
	KindContract   Kind = "model_contract"
	KindTransient  Kind = "transient"
	KindAsset      Kind = "asset"
	KindBestEffort Kind = "best_effort"
	KindInternal   Kind = "internal"
)

type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return e.Stage + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func Input(stage, format string, args ...any) error {
	return New(KindInput, stage, fmt.Errorf(format, args...))
}

func Contract(stage, format string, args ...any) error {
	return New(KindContract, stage, fmt.Errorf(format, args...))
}

func Asset(stage, format string, args ...any) error {
	return New(KindAsset, stage, fmt.Errorf(format, args...))
}

// KindOf returns the innermost classified kind, or KindInternal.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) && je != nil {
		return je.Kind
	}
	return KindInternal
}

// StageOf returns the stage recorded on err, or fallback.
func StageOf(err error, fallback string) string {
	var je *Error
	if errors.As(err, &je) && je != nil && je.Stage != "" {
		return je.Stage
	}
	return fallback
}

// IsFatal reports whether err must fail the job. Best-effort errors never do.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindBestEffort
}
