package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-roomchat/internal/database"
)

type ValidationKind string

const (
	KindMissingField      ValidationKind = "missing_field"
	KindInvalidEmail      ValidationKind = "invalid_email"
	KindDuplicateEmail    ValidationKind = "duplicate_email"
	KindDuplicateUsername ValidationKind = "duplicate_username"
)

const (
	FieldEmail    = "email"
	FieldUsername = "username"
)

// ValidationError reports user-correctable join problems. Several kinds
// may be reported together.
type ValidationError struct {
	Kinds           []ValidationKind
	Fields          []string
	DuplicateFields []string
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		parts[i] = string(k)
	}
	msg := "validation failed: " + strings.Join(parts, ", ")
	if len(e.Fields) > 0 {
		msg += " (" + strings.Join(e.Fields, ", ") + ")"
	}
	return msg
}

func (e *ValidationError) Has(kind ValidationKind) bool {
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(kind ValidationKind, field string) {
	if !e.Has(kind) {
		e.Kinds = append(e.Kinds, kind)
	}
	e.Fields = append(e.Fields, field)
}

// UpstreamError wraps a persistence gateway failure with the operation that
// caused it.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

var (
	ErrNotFound         = database.ErrNotFound
	ErrNotJoined        = errors.New("connection has not joined a room")
	ErrAlreadyJoined    = errors.New("connection already joined a room")
	ErrMessageRejected  = errors.New("message rejected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnavailable      = errors.New("service unavailable")

	errRoomClosed = errors.New("room closed")
)
