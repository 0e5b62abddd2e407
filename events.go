package cachette

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// eventName identifies the named events a tier fans out, per SPEC_FULL.md §6.
type eventName string

const (
	eventSet  eventName = "set"
	eventGet  eventName = "get"
	eventDel  eventName = "del"
	eventInfo eventName = "info"
	eventWarn eventName = "warn"
	eventWait eventName = "wait"
)

// handler receives (key-or-message, value-or-details) for a fired event. Both
// arguments are optional and event-specific; callers type-assert as needed.
type handler func(a, b any)

// emitter is a one-to-many fan-out of named messages, the Go analogue of the
// source library's event-emitter collaborator contract (SPEC_FULL.md §9:
// "a typed channel or observer-list suffices"). It also mirrors every fired
// event into zerolog so operators get log lines even with no subscribers,
// matching the teacher's direct log.Warn()/log.Info() calls in cache.go.
type emitter struct {
	mu       sync.RWMutex
	handlers map[eventName][]handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[eventName][]handler)}
}

func (e *emitter) on(name eventName, h handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], h)
}

func (e *emitter) emit(name eventName, a, b any) {
	e.mu.RLock()
	hs := append([]handler(nil), e.handlers[name]...)
	e.mu.RUnlock()
	for _, h := range hs {
		h(a, b)
	}
	logEvent(name, a, b)
}

func logEvent(name eventName, a, b any) {
	switch name {
	case eventInfo:
		log.Info().Msgf("%v", a)
	case eventWarn:
		if b != nil {
			log.Warn().Interface("details", b).Msgf("%v", a)
		} else {
			log.Warn().Msgf("%v", a)
		}
	case eventSet, eventGet, eventDel:
		log.Debug().Str("event", string(name)).Interface("key", a).Msg("cache event")
	case eventWait:
		log.Debug().Msg("cachette: waiting for replication")
	}
}
