package command

import (
	"errors"
	"fmt"
)

// Result результат выполнения команды
type Result int

const (
	Success Result = iota
	// Queued вызов принят в очередь без ожидания результата
	Queued
	Disabled
	ArgumentMismatch
	Timeout
	InterfaceNotFound
	FunctionUnavailable
	QueueFull
	NetworkError
	NotFound
	// Failed обработчик команды вернул ошибку или запаниковал
	Failed
)

var resultNames = [...]string{
	Success:             "success",
	Queued:              "queued",
	Disabled:            "disabled",
	ArgumentMismatch:    "argument-mismatch",
	Timeout:             "timeout",
	InterfaceNotFound:   "interface-not-found",
	FunctionUnavailable: "function-unavailable",
	QueueFull:           "queue-full",
	NetworkError:        "network-error",
	NotFound:            "not-found",
	Failed:              "failed",
}

// String возвращает имя результата
func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// IsOK сообщает об успешном выполнении или постановке в очередь
func (r Result) IsOK() bool {
	return r == Success || r == Queued
}

// Err возвращает nil для успешных результатов и *ResultError иначе
func (r Result) Err() error {
	if r.IsOK() {
		return nil
	}
	return &ResultError{Result: r}
}

// MarshalText реализует encoding.TextMarshaler
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (r *Result) UnmarshalText(text []byte) error {
	for i, name := range resultNames {
		if name == string(text) {
			*r = Result(i)
			return nil
		}
	}
	return fmt.Errorf("unknown execution result %q", string(text))
}

// ResultError ошибка выполнения команды с результатом
type ResultError struct {
	Result  Result
	Command string
	Cause   error
}

// NewResultError создает ошибку с результатом и причиной
func NewResultError(result Result, cause error) *ResultError {
	return &ResultError{Result: result, Cause: cause}
}

func (e *ResultError) Error() string {
	msg := e.Result.String()
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResultError) Unwrap() error {
	return e.Cause
}

// ResultOf извлекает результат из ошибки; ошибки без результата считаются Failed
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result
	}
	return Failed
}
