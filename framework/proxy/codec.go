// Package proxy связывает компоненты разных процессов через шину сообщений.
// Server экспортирует локальные компоненты, Client строит их локальные двойники (proxy),
// которые соединяются с требуемыми интерфейсами так же, как обычные компоненты.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
)

// Payload значение аргумента или результата в JSON.
// Реализует command.Decoder: тип восстанавливается на стороне получателя по прототипу.
type Payload []byte

// Decode декодирует значение в target
func (p Payload) Decode(target any) error {
	if len(p) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(p, target)
}

// MarshalJSON встраивает значение без повторного кодирования
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON сохраняет значение как есть
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// EncodePayload кодирует значение; Payload передается без изменений
func EncodePayload(v any) (Payload, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Payload:
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to encode payload")
	}
	return data, nil
}

// Envelope запрос или ответ на вызов удаленной команды
type Envelope struct {
	ID      string         `json:"id"`
	Command string         `json:"command,omitempty"`
	Kind    command.Kind   `json:"kind"`
	Payload Payload        `json:"payload,omitempty"`
	Result  command.Result `json:"result"`
	Error   string         `json:"error,omitempty"`
}

// Codec кодирует конверты для передачи по шине
type Codec interface {
	Name() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(data []byte, env *Envelope) error
}

// NewCodec возвращает кодек по имени: json или protobuf
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "protobuf":
		return ProtobufCodec{}, nil
	default:
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown proxy codec %q", name)
	}
}

// JSONCodec кодек JSON
type JSONCodec struct{}

// Name возвращает имя кодека
func (JSONCodec) Name() string { return "json" }

// Marshal кодирует конверт
func (JSONCodec) Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unmarshal декодирует конверт
func (JSONCodec) Unmarshal(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

// ProtobufCodec кодек google.protobuf.Struct.
// Значение аргумента передается строкой JSON внутри структуры.
type ProtobufCodec struct{}

// Name возвращает имя кодека
func (ProtobufCodec) Name() string { return "protobuf" }

// Marshal кодирует конверт
func (ProtobufCodec) Marshal(env *Envelope) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"id":      env.ID,
		"command": env.Command,
		"kind":    env.Kind.String(),
		"payload": string(env.Payload),
		"result":  env.Result.String(),
		"error":   env.Error,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Unmarshal декодирует конверт
func (ProtobufCodec) Unmarshal(data []byte, env *Envelope) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return err
	}
	field := func(name string) string {
		return s.GetFields()[name].GetStringValue()
	}

	kind, err := command.ParseKind(field("kind"))
	if err != nil {
		return err
	}
	var result command.Result
	if err := result.UnmarshalText([]byte(field("result"))); err != nil {
		return err
	}

	env.ID = field("id")
	env.Command = field("command")
	env.Kind = kind
	env.Result = result
	env.Error = field("error")
	env.Payload = nil
	if p := field("payload"); p != "" {
		env.Payload = Payload(p)
	}
	return nil
}
