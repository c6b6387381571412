package statestore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process backend. Views created from it share data and feed but
// carry distinct origins, the way separate replicas share one Redis.
type Memory struct {
	mu     sync.Mutex
	data   map[string]map[string]string
	subs   map[string]map[int]func(Change)
	nextID int
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]string),
		subs: make(map[string]map[int]func(Change)),
	}
}

// View returns a Store handle with a fresh origin.
func (m *Memory) View() Store {
	return &memoryView{backend: m, origin: uuid.NewString()}
}

type memoryView struct {
	backend *Memory
	origin  string
}

func (v *memoryView) Origin() string { return v.origin }

func (v *memoryView) Load(ctx context.Context, scope string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := v.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data[scope]))
	for k, val := range m.data[scope] {
		out[k] = val
	}
	return out, nil
}

func (v *memoryView) Save(ctx context.Context, scope string, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := v.backend
	m.mu.Lock()
	bucket, ok := m.data[scope]
	if !ok {
		bucket = make(map[string]string)
		m.data[scope] = bucket
	}
	changes := make([]Change, 0, len(values))
	for k, val := range values {
		bucket[k] = val
		changes = append(changes, Change{Scope: scope, Key: k, Value: val, Origin: v.origin})
	}
	subs := m.subscribers(scope)
	m.mu.Unlock()
	deliver(subs, changes)
	return nil
}

func (v *memoryView) Remove(ctx context.Context, scope string, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := v.backend
	m.mu.Lock()
	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		if _, ok := m.data[scope][k]; !ok {
			continue
		}
		delete(m.data[scope], k)
		changes = append(changes, Change{Scope: scope, Key: k, Deleted: true, Origin: v.origin})
	}
	subs := m.subscribers(scope)
	m.mu.Unlock()
	deliver(subs, changes)
	return nil
}

func (v *memoryView) Subscribe(ctx context.Context, scope string, fn func(Change)) (func(), error) {
	m := v.backend
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if _, ok := m.subs[scope]; !ok {
		m.subs[scope] = make(map[int]func(Change))
	}
	m.subs[scope][id] = fn
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[scope], id)
			if len(m.subs[scope]) == 0 {
				delete(m.subs, scope)
			}
			m.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel, nil
}

func (m *Memory) subscribers(scope string) []func(Change) {
	out := make([]func(Change), 0, len(m.subs[scope]))
	for _, fn := range m.subs[scope] {
		out = append(out, fn)
	}
	return out
}

// deliver runs outside the lock so callbacks may write back to the store.
func deliver(subs []func(Change), changes []Change) {
	for _, change := range changes {
		for _, fn := range subs {
			fn(change)
		}
	}
}
