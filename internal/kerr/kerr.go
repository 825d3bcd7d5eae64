// Package kerr defines the error kinds shared across every Keramics
// layer and the frame-trace helper layers use to add context as an
// error propagates up the call stack.
package kerr

import (
	"github.com/pkg/errors"
)

// Sentinel error kinds. Compare with errors.Is; every concrete error
// returned by a decoder wraps one of these.
var (
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrUnsupportedFormatVersion = errors.New("unsupported format version")
	ErrInvalidMetadata         = errors.New("invalid metadata")
	ErrUnsupportedFeature      = errors.New("unsupported feature")
	ErrNotFound                = errors.New("not found")
	ErrNotADirectory           = errors.New("not a directory")
	ErrSymlinkLoop             = errors.New("symlink loop")
	ErrInvalidPath             = errors.New("invalid path")
	ErrIO                      = errors.New("i/o error")
	ErrLockPoisoned            = errors.New("lock poisoned")
	ErrAmbiguousSignature      = errors.New("ambiguous signature")
)

// Frame wraps err with a one-line contextual message, preserving err for
// errors.Is/errors.As and building the append-only frame trace spec.md's
// error-handling design calls for. The returned error's Error() string
// includes the new message; %+v prints the full frame trace.
func Frame(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithMessagef(err, format, args...)
}

// Of reports whether err ultimately wraps kind.
func Of(err, kind error) bool {
	return errors.Is(err, kind)
}
