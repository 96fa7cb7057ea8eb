// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

import "time"

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeComponent ComponentType = "component"
	ComponentTypeTask      ComponentType = "task"
	ComponentTypeProxy     ComponentType = "proxy"
)

// Queueing политика доставки вызовов в предоставленный интерфейс
type Queueing int

const (
	// QueueingDefault наследует политику владельца (задача - Queued, пассивный компонент - Direct)
	QueueingDefault Queueing = iota
	// Queued вызовы из чужих потоков проходят через mailbox
	Queued
	// Direct вызовы выполняются в потоке вызывающего
	Direct
)

// String возвращает строковое представление политики
func (q Queueing) String() string {
	switch q {
	case Queued:
		return "queued"
	case Direct:
		return "direct"
	default:
		return "default"
	}
}

// Значения по умолчанию
const (
	DefaultMailboxSize  = 64
	DefaultCallTimeout  = 5 * time.Second
	DefaultStateHistory = 256
)
