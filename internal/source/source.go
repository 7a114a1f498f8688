// Package source provides log connectors: named factories producing
// record streams from external inputs. The built-in "json-lines"
// connector reads newline-delimited JSON files, with an optional
// fsnotify-backed follow mode.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/stream"
)

// Options configures a connector instance.
type Options struct {
	// Path is the input location; its meaning is connector-specific.
	Path string

	// Follow keeps the stream open after the initial read, emitting
	// records as the input grows.
	Follow bool

	// FollowRotate re-opens the input when rotation is detected.
	FollowRotate bool
}

// Factory builds a connector stream. The validator screens raw lines
// before decoding; rejected lines surface as record.ErrInvalid from
// Next without ending the stream.
type Factory func(opts Options, validator *record.Validator, logger zerolog.Logger) (stream.Stream, error)

// Registry maps connector names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in connectors
// registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("json-lines", NewJSONLines)
	return r
}

// Register adds or replaces a connector factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Open builds a stream from the named connector.
func (r *Registry) Open(name string, opts Options, validator *record.Validator, logger zerolog.Logger) (stream.Stream, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector %q (available: %v)", name, r.Names())
	}
	return f(opts, validator, logger)
}

// Names returns the registered connector names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
