package component

import (
	"fmt"
	"strings"
)

// State состояние жизненного цикла компонента
type State int

const (
	Constructed State = iota
	Initializing
	Ready
	Active
	Finishing
	Finished
	Error
)

var stateNames = [...]string{
	Constructed:  "CONSTRUCTED",
	Initializing: "INITIALIZING",
	Ready:        "READY",
	Active:       "ACTIVE",
	Finishing:    "FINISHING",
	Finished:     "FINISHED",
	Error:        "ERROR",
}

// String возвращает имя состояния
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal сообщает, что из состояния нет выхода
func (s State) IsTerminal() bool {
	return s == Finished || s == Error
}

// MarshalText реализует encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState разбирает имя состояния без учета регистра
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(name, s) {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown component state %q", s)
}
