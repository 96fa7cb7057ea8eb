package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestFrameworkError_Error(t *testing.T) {
	err := NewError(ErrComponentNotFound, "component A not registered")
	if err.Error() != "[COMPONENT_NOT_FOUND] component A not registered" {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	wrapped := Wrap(errors.New("boom"), ErrStartupFailed, "startup of A failed")
	if wrapped.Error() != "[STARTUP_FAILED] startup of A failed: boom" {
		t.Errorf("Unexpected message: %s", wrapped.Error())
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrTimeout, "x") != nil {
		t.Error("Expected nil when wrapping nil error")
	}
}

func TestIsErrorCode(t *testing.T) {
	base := Errorf(ErrInterfaceIncompatible, "function %q kind mismatch", "GetValue")
	chained := fmt.Errorf("connect B.In -> A.Out: %w", base)

	if !IsErrorCode(chained, ErrInterfaceIncompatible) {
		t.Error("Expected code to be found through the error chain")
	}
	if IsErrorCode(chained, ErrComponentNotFound) {
		t.Error("Expected different code not to match")
	}
	if IsErrorCode(nil, ErrInterfaceIncompatible) {
		t.Error("Expected nil error not to match")
	}
	if ErrorCode(errors.New("plain")) != "" {
		t.Error("Expected empty code for plain error")
	}
}

func TestFrameworkError_Is(t *testing.T) {
	err := NewError(ErrDuplicateName, "component A already registered")
	if !errors.Is(err, &FrameworkError{Code: ErrDuplicateName}) {
		t.Error("Expected errors.Is to match by code")
	}
	if errors.Is(err, &FrameworkError{Code: ErrNotFound}) {
		t.Error("Expected errors.Is not to match other code")
	}
}

func TestFrameworkError_For(t *testing.T) {
	base := NewError(ErrInvalidState, "task is ACTIVE")
	err := base.For("B")
	if err.Error() != "[INVALID_STATE] B: task is ACTIVE" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if base.Component != "" {
		t.Error("Expected original error to stay unbound")
	}
	if err.StackTrace() == "" {
		t.Error("Expected stack trace to be captured")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("call: %w", NewError(ErrTransport, "bus down"))) {
		t.Error("Expected transport error to be retryable")
	}
	if IsRetryable(NewError(ErrInterfaceIncompatible, "kind mismatch")) {
		t.Error("Expected incompatible interface not to be retryable")
	}
}

func TestQueueing_String(t *testing.T) {
	cases := map[Queueing]string{
		QueueingDefault: "default",
		Queued:          "queued",
		Direct:          "direct",
	}
	for q, want := range cases {
		if q.String() != want {
			t.Errorf("Expected %s, got %s", want, q.String())
		}
	}
}
