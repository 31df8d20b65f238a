package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/log"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Field      string `json:"field,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	Question   string `json:"question,omitempty"`
}

func statusOf(kind fault.Kind) int {
	switch kind {
	case fault.Unauthenticated, fault.StaleCredential:
		return http.StatusUnauthorized
	case fault.Forbidden:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Validation, fault.TemplateNotPublished,
		fault.MissingRequiredAnswer, fault.UnmatchedAnswer:
		return http.StatusBadRequest
	case fault.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RenderError maps a fault to its HTTP status and writes the JSON error
// body. Internal faults (and any error not raised through the fault
// package) are logged with the given code and reported without detail.
func RenderError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var f *fault.Fault
	if !errors.As(err, &f) {
		log.Errorf("%s: %s", code, err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorBody{Error: fault.Internal.String()})
		return
	}

	if f.Kind == fault.Internal {
		log.Errorf("%s: %s", code, f)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorBody{Error: fault.Internal.String()})
		return
	}

	log.Debugf("%s: %s", code, f)
	render.Status(r, statusOf(f.Kind))
	render.JSON(w, r, errorBody{
		Error:      f.Kind.String(),
		Message:    f.Message,
		Field:      f.Field,
		QuestionID: f.QuestionID,
		Question:   f.Question,
	})
}
