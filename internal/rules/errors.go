package rules

import (
	"errors"
	"fmt"
)

// Sentinel causes for rule document validation failures. Match with
// errors.Is; the wrapping ValidationError carries the node path.
var (
	ErrInvalidRuleNode       = errors.New("invalid rule node")
	ErrUnknownField          = errors.New("unknown field")
	ErrInvalidPredicate      = errors.New("invalid predicate")
	ErrInvalidConditionValue = errors.New("invalid condition value")
	ErrInvalidAction         = errors.New("invalid action")
)

// ValidationError describes the first structural defect found in a rule
// document. Validation is fail-fast: loading stops at the first defect.
type ValidationError struct {
	Path   string // e.g. "rules[1].conditions[0]"
	Detail string
	Err    error // one of the sentinels above
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v: %s", e.Path, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationErr(path string, cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Err: cause, Detail: fmt.Sprintf(format, args...)}
}
