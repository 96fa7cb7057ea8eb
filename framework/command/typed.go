package command

import "context"

// NewVoid создает команду без аргументов
func NewVoid(name string, fn func(ctx context.Context) error, opts ...Option) (*Command, error) {
	return New(name, Void, func(ctx context.Context, _ any) (any, error) {
		return nil, fn(ctx)
	}, None(), None(), opts...)
}

// NewWrite создает команду с входным аргументом T
func NewWrite[T any](name string, fn func(ctx context.Context, v T) error, opts ...Option) (*Command, error) {
	return New(name, Write, func(ctx context.Context, arg any) (any, error) {
		return nil, fn(ctx, as[T](arg))
	}, PrototypeOf[T](), None(), opts...)
}

// NewRead создает команду, возвращающую T
func NewRead[T any](name string, fn func(ctx context.Context) (T, error), opts ...Option) (*Command, error) {
	return New(name, Read, func(ctx context.Context, _ any) (any, error) {
		return fn(ctx)
	}, None(), PrototypeOf[T](), opts...)
}

// NewQualifiedRead создает команду чтения с квалификатором I и результатом O
func NewQualifiedRead[I, O any](name string, fn func(ctx context.Context, in I) (O, error), opts ...Option) (*Command, error) {
	return New(name, QualifiedRead, func(ctx context.Context, arg any) (any, error) {
		return fn(ctx, as[I](arg))
	}, PrototypeOf[I](), PrototypeOf[O](), opts...)
}

// NewVoidReturn создает команду без входа с результатом, исполняемую в потоке владельца
func NewVoidReturn[O any](name string, fn func(ctx context.Context) (O, error), opts ...Option) (*Command, error) {
	return New(name, VoidReturn, func(ctx context.Context, _ any) (any, error) {
		return fn(ctx)
	}, None(), PrototypeOf[O](), opts...)
}

// NewWriteReturn создает команду со входом I и результатом O, исполняемую в потоке владельца
func NewWriteReturn[I, O any](name string, fn func(ctx context.Context, in I) (O, error), opts ...Option) (*Command, error) {
	return New(name, WriteReturn, func(ctx context.Context, arg any) (any, error) {
		return fn(ctx, as[I](arg))
	}, PrototypeOf[I](), PrototypeOf[O](), opts...)
}

// as приводит уже проверенный аргумент к T; nil дает нулевое значение
func as[T any](arg any) T {
	if arg == nil {
		var zero T
		return zero
	}
	return arg.(T)
}
