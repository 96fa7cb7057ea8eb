package command

import (
	"fmt"
	"reflect"
)

// Decoder значение, которое еще нужно декодировать в конкретный тип.
// Так приходят аргументы, пересекшие транспорт прокси.
type Decoder interface {
	Decode(target any) error
}

// Prototype описание формы аргумента: тег типа и размер.
// Локальные прототипы несут reflect.Type, удаленные - только тег и размер.
type Prototype struct {
	typ  reflect.Type
	tag  string
	size uintptr
}

// None пустой прототип для команд без аргумента
func None() Prototype {
	return Prototype{}
}

// PrototypeOf строит прототип для типа T
func PrototypeOf[T any]() Prototype {
	return PrototypeFor(reflect.TypeOf((*T)(nil)).Elem())
}

// PrototypeFor строит прототип для reflect.Type
func PrototypeFor(t reflect.Type) Prototype {
	if t == nil {
		return None()
	}
	return Prototype{typ: t, tag: t.String(), size: t.Size()}
}

// RemotePrototype строит прототип без Go типа (описание удаленного интерфейса)
func RemotePrototype(tag string, size uintptr) Prototype {
	return Prototype{tag: tag, size: size}
}

// Tag возвращает тег типа
func (p Prototype) Tag() string { return p.tag }

// Size возвращает размер значения в байтах
func (p Prototype) Size() uintptr { return p.size }

// Type возвращает Go тип или nil для удаленного прототипа
func (p Prototype) Type() reflect.Type { return p.typ }

// IsZero сообщает, что прототип пуст
func (p Prototype) IsZero() bool { return p.tag == "" && p.typ == nil }

// IsRemote сообщает, что у прототипа нет Go типа
func (p Prototype) IsRemote() bool { return p.typ == nil && p.tag != "" }

// String возвращает человекочитаемое описание
func (p Prototype) String() string {
	if p.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s(%d)", p.tag, p.size)
}

// Compatible проверяет совместимость формы двух прототипов
func (p Prototype) Compatible(other Prototype) bool {
	if p.IsZero() || other.IsZero() {
		return p.IsZero() == other.IsZero()
	}
	if p.typ != nil && other.typ != nil {
		return p.typ == other.typ
	}
	return p.tag == other.tag && p.size == other.size
}

// Accepts проверяет, что значение соответствует прототипу
func (p Prototype) Accepts(v any) bool {
	if p.IsZero() {
		return v == nil
	}
	if v == nil {
		return p.typ != nil && nillable(p.typ.Kind())
	}
	vt := reflect.TypeOf(v)
	if p.typ == nil {
		return vt.String() == p.tag && vt.Size() == p.size
	}
	if p.typ.Kind() == reflect.Interface {
		return vt.Implements(p.typ)
	}
	return vt == p.typ
}

// Coerce приводит значение к прототипу: декодирует Decoder и проверяет тип
func (p Prototype) Coerce(v any) (any, bool) {
	if d, ok := v.(Decoder); ok {
		if p.typ == nil {
			return v, !p.IsZero()
		}
		ptr := reflect.New(p.typ)
		if err := d.Decode(ptr.Interface()); err != nil {
			return nil, false
		}
		return ptr.Elem().Interface(), true
	}
	if !p.Accepts(v) {
		return nil, false
	}
	return v, true
}

// New возвращает указатель на нулевое значение типа прототипа
func (p Prototype) New() (any, error) {
	if p.typ == nil {
		return nil, fmt.Errorf("prototype %s has no local type", p)
	}
	return reflect.New(p.typ).Interface(), nil
}

// Zero возвращает нулевое значение типа прототипа
func (p Prototype) Zero() any {
	if p.typ == nil {
		return nil
	}
	return reflect.Zero(p.typ).Interface()
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
