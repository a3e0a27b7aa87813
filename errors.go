package rpmqd

import (
	"errors"
	"fmt"
	"strings"
)

// Error is this module's error domain type.
//
// Components should create an Error at the system boundary (parsing a
// document, touching the database, making a network call) and intermediate
// layers should prefer wrapping with "%w" over constructing another Error,
// except to refine the [ErrorKind].
type Error struct {
	Inner   error
	Kind    ErrorKind
	Op      string
	Message string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] against an [ErrorKind].
//
// Callers should compare against a declared [ErrorKind], e.g.
// errors.Is(err, rpmqd.ErrNotFound).
func (e *Error) Is(target error) bool {
	if k, ok := target.(ErrorKind); ok {
		return e.Kind == k
	}
	return errors.Is(e.Kind, target)
}

// Unwrap enables [errors.Unwrap] and [errors.As].
func (e *Error) Unwrap() error { return e.Inner }

// ErrorKind classifies an [Error]. See spec §7.
type ErrorKind string

// Error implements error, so an ErrorKind can be compared with [errors.Is].
func (k ErrorKind) Error() string { return string(k) }

// Defined error kinds.
const (
	// ErrParse is a malformed rpm-md XML document.
	ErrParse ErrorKind = "parse"
	// ErrCompression is a failure decompressing a fetched payload.
	ErrCompression ErrorKind = "compression"
	// ErrNetwork is a failure reaching a remote repository.
	ErrNetwork ErrorKind = "network"
	// ErrStorage is a relational-store failure at a transactional boundary.
	ErrStorage ErrorKind = "storage"
	// ErrSchemaMismatch is a database schema newer than this build understands.
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
	// ErrVectorDimMismatch is a vector whose length disagrees with the
	// store's configured dimension. Fatal to the current operation.
	ErrVectorDimMismatch ErrorKind = "vector_dim_mismatch"
	// ErrUniqueViolation is a (name, arch, repo) collision on insert. Fatal
	// to the ingest that produced it; the diff logic should never attempt to
	// insert an existing package.
	ErrUniqueViolation ErrorKind = "unique_violation"
	// ErrNotFound is a lookup that matched no row.
	ErrNotFound ErrorKind = "not_found"
	// ErrConfig is a malformed or invalid sync configuration document.
	ErrConfig ErrorKind = "config"
	// ErrEmbed is a failure from the embedding collaborator. Recoverable per
	// batch; the run continues.
	ErrEmbed ErrorKind = "embed"
)

// Newf builds an [*Error] with a formatted message.
func Newf(kind ErrorKind, op, format string, a ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, a...)}
}

// Wrap builds an [*Error] around an existing error.
func Wrap(kind ErrorKind, op string, inner error) *Error {
	return &Error{Kind: kind, Op: op, Inner: inner}
}
