// Package command предоставляет типизированные команды: вариант вызова (Void, Write, Read, ...),
// прототипы аргументов и результаты выполнения.
package command

import (
	"fmt"
	"strings"
)

// Kind вариант команды
type Kind int

const (
	Void Kind = iota
	Write
	Read
	QualifiedRead
	VoidReturn
	WriteReturn
)

var kindNames = [...]string{
	Void:          "Void",
	Write:         "Write",
	Read:          "Read",
	QualifiedRead: "QualifiedRead",
	VoidReturn:    "VoidReturn",
	WriteReturn:   "WriteReturn",
}

// Kinds перечисляет все варианты в стабильном порядке
func Kinds() []Kind {
	return []Kind{Void, Write, Read, QualifiedRead, VoidReturn, WriteReturn}
}

// String возвращает имя варианта
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// HasInput сообщает, принимает ли команда входной аргумент
func (k Kind) HasInput() bool {
	return k == Write || k == QualifiedRead || k == WriteReturn
}

// HasOutput сообщает, возвращает ли команда выходной аргумент
func (k Kind) HasOutput() bool {
	return k == Read || k == QualifiedRead || k == VoidReturn || k == WriteReturn
}

// Queueable сообщает, ставится ли команда в очередь владельца.
// Read и QualifiedRead всегда исполняются в потоке вызывающего.
func (k Kind) Queueable() bool {
	return k == Void || k == Write || k == VoidReturn || k == WriteReturn
}

// MarshalText реализует encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind разбирает имя варианта без учета регистра
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown command kind %q", s)
}
