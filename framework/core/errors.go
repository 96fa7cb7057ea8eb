// Package core предоставляет систему ошибок фреймворка.
package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок фреймворка
const (
	ErrNotFound              = "NOT_FOUND"
	ErrAlreadyExists         = "ALREADY_EXISTS"
	ErrDuplicateName         = "DUPLICATE_NAME"
	ErrInvalidConfig         = "INVALID_CONFIG"
	ErrComponentNotFound     = "COMPONENT_NOT_FOUND"
	ErrInterfaceNotFound     = "INTERFACE_NOT_FOUND"
	ErrInterfaceIncompatible = "INTERFACE_INCOMPATIBLE"
	ErrAlreadyConnected      = "ALREADY_CONNECTED"
	ErrNotConnected          = "NOT_CONNECTED"
	ErrInvalidState          = "INVALID_STATE"
	ErrStartupFailed         = "STARTUP_FAILED"
	ErrExecutionFailed       = "EXECUTION_FAILED"
	ErrTimeout               = "TIMEOUT"
	ErrTransport             = "TRANSPORT_ERROR"
)

// FrameworkError ошибка конфигурации, соединения или жизненного цикла.
// Ошибки вызова команд передаются значениями command.Result.
type FrameworkError struct {
	Code      string
	Component string
	Message   string
	Cause     error
	pcs       []uintptr
}

// Error реализует интерфейс error
func (e *FrameworkError) Error() string {
	var b strings.Builder
	b.WriteString("[" + e.Code + "] ")
	if e.Component != "" {
		b.WriteString(e.Component + ": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap возвращает причину ошибки
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *FrameworkError) Is(target error) bool {
	if t, ok := target.(*FrameworkError); ok {
		return e.Code == t.Code
	}
	return false
}

// For возвращает копию ошибки, привязанную к компоненту
func (e *FrameworkError) For(component string) *FrameworkError {
	c := *e
	c.Component = component
	return &c
}

// StackTrace возвращает стек места создания ошибки
func (e *FrameworkError) StackTrace() string {
	if len(e.pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// NewError создает новую ошибку фреймворка
func NewError(code, message string) *FrameworkError {
	return &FrameworkError{Code: code, Message: message, pcs: callers()}
}

// Errorf создает ошибку фреймворка с форматированным сообщением
func Errorf(code, format string, args ...interface{}) *FrameworkError {
	return &FrameworkError{Code: code, Message: fmt.Sprintf(format, args...), pcs: callers()}
}

// Wrap оборачивает существующую ошибку; nil остается nil
func Wrap(err error, code, message string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{Code: code, Message: message, Cause: err, pcs: callers()}
}

// ErrorCode возвращает код первой FrameworkError в цепочке или пустую строку
func ErrorCode(err error) string {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsErrorCode проверяет, что ошибка несет указанный код
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsRetryable сообщает, имеет ли смысл повторить операцию
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case ErrTimeout, ErrTransport:
		return true
	}
	return false
}

func callers() []uintptr {
	pcs := make([]uintptr, 16)
	// пропускаем runtime.Callers, callers и конструктор
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
