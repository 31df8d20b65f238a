package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can map it without string matching.
type Kind int

const (
	Unauthenticated Kind = iota
	StaleCredential
	Forbidden
	NotFound
	Validation
	TemplateNotPublished
	MissingRequiredAnswer
	UnmatchedAnswer
	Conflict
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case StaleCredential:
		return "stale_credential"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation_error"
	case TemplateNotPublished:
		return "template_not_published"
	case MissingRequiredAnswer:
		return "missing_required_answer"
	case UnmatchedAnswer:
		return "unmatched_answer"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Fault is the error type every domain and policy check returns.
type Fault struct {
	Kind    Kind
	Message string

	// Field is the offending field path for Validation faults.
	Field string
	// QuestionID and Question carry consistency-check specifics.
	QuestionID string
	Question   string

	Err error
}

func (e *Fault) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	case e.Field != "":
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Field, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap allows errors.Is and errors.As to work.
func (e *Fault) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) error {
	return &Fault{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidation reports a structural schema violation at the given field path.
func NewValidation(field, msg string) error {
	return &Fault{Kind: Validation, Message: msg, Field: field}
}

// NewMissingRequiredAnswer reports a required block left unanswered.
func NewMissingRequiredAnswer(questionID, question string) error {
	return &Fault{
		Kind:       MissingRequiredAnswer,
		Message:    "no answer for required question",
		QuestionID: questionID,
		Question:   question,
	}
}

// NewUnmatchedAnswer reports an answer referencing a question id the
// template does not contain.
func NewUnmatchedAnswer(questionID string) error {
	return &Fault{
		Kind:       UnmatchedAnswer,
		Message:    "answer does not match any question",
		QuestionID: questionID,
	}
}

// NewInternal wraps an unexpected storage or collaborator failure.
func NewInternal(msg string, err error) error {
	return &Fault{Kind: Internal, Message: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// did not originate in this package.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// IsKind checks whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
