package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"refinebox/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "refine", "kwiver runner", "failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"refine", "kwiver runner", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

type kindedError struct{}

func (kindedError) Error() string     { return "kinded" }
func (kindedError) ErrorKind() string { return "custom" }

func TestErrorKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"tool", services.Wrap(services.ErrExternalTool, "refine", "", "", nil), "external_tool"},
		{"validation", services.Wrap(services.ErrValidation, "normalize", "", "bad row", nil), "validation"},
		{"not found", services.Wrap(services.ErrNotFound, "discover", "", "", nil), "not_found"},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"classifier", fmt.Errorf("wrapped: %w", kindedError{}), "custom"},
		{"plain", errors.New("plain"), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.ErrorKind(tc.err); got != tc.want {
				t.Fatalf("ErrorKind = %q, want %q", got, tc.want)
			}
		})
	}
}
