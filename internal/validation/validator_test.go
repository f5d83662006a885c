package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Email  string        `json:"email" validate:"required,email"`
	Action string        `json:"action" validate:"oneof=a b"`
	Items  []sampleChild `json:"items" validate:"omitempty,dive"`
}

type sampleChild struct {
	Type string `json:"type" validate:"required"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&sample{Action: "c", Items: []sampleChild{{}}})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if len(reqErr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", reqErr.Fields)
	}
	msg := reqErr.Error()
	for _, want := range []string{"email is required", "action must be one of [a b]", "items[0].type is required"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateStructAcceptsValid(t *testing.T) {
	t.Parallel()

	if err := ValidateStruct(&sample{Email: "a@x.com", Action: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
