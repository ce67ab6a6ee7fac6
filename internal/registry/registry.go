// Package registry derives event-type interest from observer registrations
// and builds the per-build dispatch tables.
package registry

import (
	"github.com/buildline/exportstream/internal/export"
)

// UnionEventTypes returns the distinct event types declared across regs, in
// first-seen order. It is computed once at startup and reused for every
// build; the result also decides which event types each per-build
// subscription requests.
func UnionEventTypes(regs []export.Registration) []string {
	var union []string
	seen := make(map[string]struct{})
	for _, reg := range regs {
		for _, et := range reg.EventTypes {
			if _, ok := seen[et]; ok {
				continue
			}
			seen[et] = struct{}{}
			union = append(union, et)
		}
	}
	return union
}

// HandlerMap routes one build's events to the observer instances interested
// in them. It is owned by a single processor and not safe for concurrent
// use.
type HandlerMap struct {
	types      []string
	handlers   map[string][]export.Observer
	finalizers []export.Finalizer
	finalized  bool
}

// NewHandlerMap instantiates one observer per registration for build and
// indexes the instances by the event types their registration declares.
// Instances are constructed in registration order and appear in each event
// type's list in that same relative order, so side-effecting observers run
// in a stable sequence. Instances implementing export.Finalizer are
// collected for Finalize.
func NewHandlerMap(build export.Build, regs []export.Registration) *HandlerMap {
	m := &HandlerMap{handlers: make(map[string][]export.Observer, len(regs))}
	for _, reg := range regs {
		if reg.New == nil {
			continue
		}
		obs := reg.New(build)
		if obs == nil {
			continue
		}
		for _, et := range reg.EventTypes {
			if _, ok := m.handlers[et]; !ok {
				m.types = append(m.types, et)
			}
			m.handlers[et] = append(m.handlers[et], obs)
		}
		if fin, ok := obs.(export.Finalizer); ok {
			m.finalizers = append(m.finalizers, fin)
		}
	}
	return m
}

// EventTypes returns the event types to request from the build's stream, in
// first-declared order.
func (m *HandlerMap) EventTypes() []string {
	return append([]string(nil), m.types...)
}

// Handles reports whether any observer is interested in eventType.
func (m *HandlerMap) Handles(eventType string) bool {
	_, ok := m.handlers[eventType]
	return ok
}

// Dispatch hands ev to every observer registered for eventType, in list
// order, and reports whether any observer wanted it. Unknown event types
// are ignored.
func (m *HandlerMap) Dispatch(eventType string, ev export.BuildEvent) bool {
	observers, ok := m.handlers[eventType]
	if !ok {
		return false
	}
	for _, obs := range observers {
		obs.HandleEvent(ev)
	}
	return true
}

// Finalize invokes Finalize on every finalize-capable instance, in
// construction order. Repeat calls are ignored.
func (m *HandlerMap) Finalize() {
	if m.finalized {
		return
	}
	m.finalized = true
	for _, fin := range m.finalizers {
		fin.Finalize()
	}
}

// Finalizers returns the number of finalize-capable instances.
func (m *HandlerMap) Finalizers() int {
	return len(m.finalizers)
}
