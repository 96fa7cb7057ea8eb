package interfaces

import (
	"context"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/statetable"
)

// AddCommandVoid регистрирует команду без аргументов
func AddCommandVoid(p *Provided, name string, fn func(ctx context.Context) error, opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewVoid(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandWrite регистрирует команду записи значения T
func AddCommandWrite[T any](p *Provided, name string, fn func(ctx context.Context, v T) error, opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewWrite(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandRead регистрирует команду чтения T; исполняется в потоке вызывающего
func AddCommandRead[T any](p *Provided, name string, fn func(ctx context.Context) (T, error), opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewRead(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandQualifiedRead регистрирует команду чтения с квалификатором
func AddCommandQualifiedRead[I, O any](p *Provided, name string, fn func(ctx context.Context, in I) (O, error), opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewQualifiedRead(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandVoidReturn регистрирует команду без входа с результатом
func AddCommandVoidReturn[O any](p *Provided, name string, fn func(ctx context.Context) (O, error), opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewVoidReturn(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandWriteReturn регистрирует команду со входом и результатом
func AddCommandWriteReturn[I, O any](p *Provided, name string, fn func(ctx context.Context, in I) (O, error), opts ...command.Option) (*command.Command, error) {
	cmd, err := command.NewWriteReturn(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	return cmd, p.Register(cmd)
}

// AddCommandReadState регистрирует команду чтения последнего зафиксированного значения столбца таблицы состояний
func AddCommandReadState[T any](p *Provided, name string, column *statetable.Column[T]) (*command.Command, error) {
	return AddCommandRead(p, name, func(ctx context.Context) (T, error) {
		v, _ := column.Latest()
		return v, nil
	}, command.WithQueueing(core.Direct))
}

// FunctionVoid типизированная функция без аргументов
type FunctionVoid struct{ *Function }

// Execute вызывает команду партнера
func (f FunctionVoid) Execute(ctx context.Context, opts ...CallOption) command.Result {
	_, res := f.Call(ctx, nil, opts...)
	return res
}

// FunctionWrite типизированная функция записи
type FunctionWrite[T any] struct{ *Function }

// Execute передает значение партнеру
func (f FunctionWrite[T]) Execute(ctx context.Context, v T, opts ...CallOption) command.Result {
	_, res := f.Call(ctx, v, opts...)
	return res
}

// FunctionRead типизированная функция чтения
type FunctionRead[T any] struct{ *Function }

// Execute читает значение у партнера
func (f FunctionRead[T]) Execute(ctx context.Context, opts ...CallOption) (T, command.Result) {
	out, res := f.Call(ctx, nil, opts...)
	return cast[T](out), res
}

// FunctionQualifiedRead типизированная функция чтения с квалификатором
type FunctionQualifiedRead[I, O any] struct{ *Function }

// Execute читает значение у партнера по квалификатору
func (f FunctionQualifiedRead[I, O]) Execute(ctx context.Context, in I, opts ...CallOption) (O, command.Result) {
	out, res := f.Call(ctx, in, opts...)
	return cast[O](out), res
}

// FunctionVoidReturn типизированная функция без входа с результатом
type FunctionVoidReturn[O any] struct{ *Function }

// Execute вызывает команду и ждет результат
func (f FunctionVoidReturn[O]) Execute(ctx context.Context, opts ...CallOption) (O, command.Result) {
	out, res := f.Call(ctx, nil, opts...)
	return cast[O](out), res
}

// FunctionWriteReturn типизированная функция со входом и результатом
type FunctionWriteReturn[I, O any] struct{ *Function }

// Execute вызывает команду и ждет результат
func (f FunctionWriteReturn[I, O]) Execute(ctx context.Context, in I, opts ...CallOption) (O, command.Result) {
	out, res := f.Call(ctx, in, opts...)
	return cast[O](out), res
}

// AddFunctionVoid объявляет функцию без аргументов
func AddFunctionVoid(r *Required, name string) (FunctionVoid, error) {
	f, err := r.AddFunction(name, command.Void, command.None(), command.None())
	return FunctionVoid{f}, err
}

// AddFunctionWrite объявляет функцию записи T
func AddFunctionWrite[T any](r *Required, name string) (FunctionWrite[T], error) {
	f, err := r.AddFunction(name, command.Write, command.PrototypeOf[T](), command.None())
	return FunctionWrite[T]{f}, err
}

// AddFunctionRead объявляет функцию чтения T
func AddFunctionRead[T any](r *Required, name string) (FunctionRead[T], error) {
	f, err := r.AddFunction(name, command.Read, command.None(), command.PrototypeOf[T]())
	return FunctionRead[T]{f}, err
}

// AddFunctionQualifiedRead объявляет функцию чтения с квалификатором
func AddFunctionQualifiedRead[I, O any](r *Required, name string) (FunctionQualifiedRead[I, O], error) {
	f, err := r.AddFunction(name, command.QualifiedRead, command.PrototypeOf[I](), command.PrototypeOf[O]())
	return FunctionQualifiedRead[I, O]{f}, err
}

// AddFunctionVoidReturn объявляет функцию без входа с результатом
func AddFunctionVoidReturn[O any](r *Required, name string) (FunctionVoidReturn[O], error) {
	f, err := r.AddFunction(name, command.VoidReturn, command.None(), command.PrototypeOf[O]())
	return FunctionVoidReturn[O]{f}, err
}

// AddFunctionWriteReturn объявляет функцию со входом и результатом
func AddFunctionWriteReturn[I, O any](r *Required, name string) (FunctionWriteReturn[I, O], error) {
	f, err := r.AddFunction(name, command.WriteReturn, command.PrototypeOf[I](), command.PrototypeOf[O]())
	return FunctionWriteReturn[I, O]{f}, err
}

func cast[T any](v any) T {
	if t, ok := v.(T); ok {
		return t
	}
	var zero T
	return zero
}
