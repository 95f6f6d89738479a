package logging

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a structured workflow event published to subscribers
type Event struct {
	Time   time.Time      `json:"time"`
	Level  zerolog.Level  `json:"level"`
	Source string         `json:"source"` // emitting component, e.g. "verification"
	Name   string         `json:"name"`   // event name, e.g. "resend.sent"
	Fields map[string]any `json:"fields,omitempty"`
}

// Subscriber receives events synchronously on the emitting goroutine
type Subscriber func(Event)

// Emitter fans workflow events out to subscribers and mirrors them to zerolog.
// A nil *Emitter is valid and drops everything.
type Emitter struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
}

// NewEmitter creates an emitter mirroring events to logger
func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{
		logger: logger,
		subs:   make(map[int]Subscriber),
	}
}

// Subscribe registers fn and returns a function that removes it
func (e *Emitter) Subscribe(fn Subscriber) func() {
	if e == nil || fn == nil {
		return func() {}
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Source returns a handle that stamps every event with the given source
func (e *Emitter) Source(name string) *Source {
	return &Source{emitter: e, name: name}
}

// Emit publishes an event
func (e *Emitter) Emit(level zerolog.Level, source, name string, fields map[string]any) {
	if e == nil {
		return
	}

	ev := Event{
		Time:   time.Now(),
		Level:  level,
		Source: source,
		Name:   name,
		Fields: fields,
	}

	e.logger.WithLevel(level).
		Str("source", source).
		Fields(fields).
		Msg(name)

	e.mu.RLock()
	subs := make([]Subscriber, 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Source emits events on behalf of one component
type Source struct {
	emitter *Emitter
	name    string
}

// Debug emits a debug-level event
func (s *Source) Debug(name string, fields map[string]any) { s.emit(zerolog.DebugLevel, name, fields) }

// Info emits an info-level event
func (s *Source) Info(name string, fields map[string]any) { s.emit(zerolog.InfoLevel, name, fields) }

// Warn emits a warn-level event
func (s *Source) Warn(name string, fields map[string]any) { s.emit(zerolog.WarnLevel, name, fields) }

// Error emits an error-level event
func (s *Source) Error(name string, fields map[string]any) { s.emit(zerolog.ErrorLevel, name, fields) }

func (s *Source) emit(level zerolog.Level, name string, fields map[string]any) {
	if s == nil {
		return
	}
	s.emitter.Emit(level, s.name, name, fields)
}
