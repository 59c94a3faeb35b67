// Package di provides a small service container with typed tokens.
//
// Services are registered lazily by factory and constructed on first access.
// Tokens carry the service type, so lookups are type-safe without casts at
// call sites.
package di

import (
	"fmt"
	"sync"
)

// ServiceRegistry is the read side of the container.
type ServiceRegistry interface {
	Get(name string) any
}

// Container registers and resolves services.
type Container interface {
	ServiceRegistry
	Register(name string, svc any)
	RegisterFactory(name string, factory func(ServiceRegistry) any)
}

// NewContainer creates an empty container.
func NewContainer() Container {
	return &container{
		services:  make(map[string]any),
		factories: make(map[string]func(ServiceRegistry) any),
	}
}

type container struct {
	mu        sync.RWMutex
	services  map[string]any
	factories map[string]func(ServiceRegistry) any
}

// Register stores an already-constructed service.
func (c *container) Register(name string, svc any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = svc
}

// RegisterFactory stores a lazy constructor. The factory runs at most once.
func (c *container) RegisterFactory(name string, factory func(ServiceRegistry) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// Get resolves a service by name, constructing it if a factory is registered.
// It panics on unknown names: a missing registration is a wiring bug.
func (c *container) Get(name string) any {
	c.mu.RLock()
	svc, ok := c.services[name]
	c.mu.RUnlock()
	if ok {
		return svc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[name]; ok {
		return svc
	}
	factory, ok := c.factories[name]
	if !ok {
		panic(fmt.Sprintf("di: service %q not registered", name))
	}
	svc = factory(c)
	c.services[name] = svc
	return svc
}

// Token identifies a service of type T in the container.
type Token[T any] struct {
	name string
}

// NewToken creates a typed token with a unique name.
func NewToken[T any](name string) Token[T] {
	return Token[T]{name: name}
}

// Name returns the token's registration name.
func (t Token[T]) Name() string {
	return t.name
}

// RegisterToken registers a typed factory under the token's name.
func RegisterToken[T any](c Container, token Token[T], factory func(ServiceRegistry) T) {
	c.RegisterFactory(token.name, func(sr ServiceRegistry) any {
		return factory(sr)
	})
}

// GetToken resolves a typed service. It panics if the registered service does
// not have the token's type.
func GetToken[T any](sr ServiceRegistry, token Token[T]) T {
	svc := sr.Get(token.name)
	typed, ok := svc.(T)
	if !ok {
		panic(fmt.Sprintf("di: service %q has type %T, token expects different type", token.name, svc))
	}
	return typed
}
