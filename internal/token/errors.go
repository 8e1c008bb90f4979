package token

import "errors"

// Editor-level error taxonomy (SPEC_FULL.md §7). Callers distinguish a
// specific failure with errors.Is against one of these sentinels, or test
// membership in the taxonomy with errors.Is(err, ErrEditor).
var (
	ErrEditor = errors.New("token: editor error")

	ErrInvalidContext   = wrap("invalid context")
	ErrInvalidPosition  = wrap("invalid position")
	ErrInvalidToken     = wrap("invalid token")
	ErrBufferTooSmall   = wrap("buffer too small")
	ErrKvCacheFull      = wrap("kv cache full")
	ErrSequenceNotFound = wrap("sequence not found")
	ErrAllocationFailed = wrap("allocation failed")
	ErrReadonly         = wrap("editor is read-only")
)

// taxonomyError wraps a leaf sentinel so errors.Is(err, ErrEditor) holds for
// every editor-level error while errors.Is(err, ErrInvalidPosition) (etc.)
// still pinpoints the exact kind.
type taxonomyError struct {
	msg    string
	parent error
}

func (e *taxonomyError) Error() string { return e.msg }
func (e *taxonomyError) Unwrap() error { return e.parent }

func wrap(msg string) error {
	return &taxonomyError{msg: "token: " + msg, parent: ErrEditor}
}
