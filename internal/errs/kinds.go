package errs

import (
	"errors"
	"fmt"
)

// Kind classifies errors that cross a usecase boundary. Remote mirror
// failures are deliberately absent: they are logged and swallowed, never
// returned to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
)

// KindError carries a Kind alongside a message so HTTP and CLI surfaces can
// translate without string matching.
type KindError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *KindError) Unwrap() error { return e.Err }

func NotFound(format string, args ...any) error {
	return &KindError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) error {
	return &KindError{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &KindError{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// KindOf walks the chain and returns the first classified kind.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
