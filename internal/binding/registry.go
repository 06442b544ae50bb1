package binding

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Factory populates a freshly created object: it declares members and binds
// functions, variables, notifications, timers and events on o.
type Factory func(o *Object) error

type classEntry struct {
	name    string
	factory Factory
}

// Registry maps class names to factories. The last registration for a name wins.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*classEntry
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*classEntry)}
}

// Register makes f instantiable under name and every alias.
func (r *Registry) Register(name string, f Factory, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range append([]string{name}, aliases...) {
		if _, exists := r.classes[n]; exists {
			log.Debug().Str("class", n).Msg("binding.Registry.Register replacing")
		}
		r.classes[n] = &classEntry{name: n, factory: f}
	}
}

// RegisterQualified registers f under the last dotted segment of qualified.
func (r *Registry) RegisterQualified(qualified string, f Factory, aliases ...string) string {
	name := qualified
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		name = qualified[i+1:]
	}
	r.Register(name, f, aliases...)
	return name
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.classes[name]
	if !ok {
		return nil, false
	}
	return e.factory, true
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.classes))
	for n := range r.classes {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Instantiate builds className in ctx. An empty requestedName uses the class
// name. Factory errors and panics come back as *ConstructionError.
func (r *Registry) Instantiate(ctx *Context, className, requestedName string) (*Object, error) {
	r.mu.RLock()
	entry, ok := r.classes[className]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConstructionError{Class: className, Object: requestedName, Err: ErrUnknownClass}
	}
	name := requestedName
	if name == "" {
		name = entry.name
	}
	return ctx.build(entry, name)
}

func (c *Context) build(entry *classEntry, name string) (*Object, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	o := newObject(c, name, entry.name)
	if err := c.adopt(o); err != nil {
		return nil, &ConstructionError{Class: entry.name, Object: name, Err: err}
	}
	if err := c.construct(o, entry.factory); err != nil {
		c.mu.Lock()
		delete(c.objects, name)
		c.mu.Unlock()
		c.teardown(o)
		log.Error().Err(err).Str("class", entry.name).Str("object", name).Msg("binding.Registry.Instantiate failed")
		if ce, ok := err.(*ConstructionError); ok {
			if ce.Class == "" {
				ce.Class = entry.name
			}
			return nil, ce
		}
		return nil, &ConstructionError{Class: entry.name, Object: name, Err: err}
	}
	o.cloner = entry
	log.Info().Str("ctx", c.id).Str("class", entry.name).Str("object", name).Msg("binding.Registry.Instantiate")
	return o, nil
}
