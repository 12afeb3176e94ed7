/*
Package rincewind – Dao registry.

Related Daos are named by a stable key and created on first use, so a caller
never wires a reference graph by hand.
*/
package rincewind

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates the Dao registered under a key.
type Factory func(r *Registry) (*Dao, error)

// Registry maps Dao keys to factories and memoizes the instances. It is safe
// for concurrent use.
type Registry struct {
	driver Driver
	log    Logger

	mu        sync.Mutex
	factories map[string]Factory
	daos      map[string]*Dao
}

// NewRegistry creates a registry whose defined Daos share one driver.
func NewRegistry(driver Driver, logger Logger) *Registry {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Registry{
		driver:    driver,
		log:       logger,
		factories: map[string]Factory{},
		daos:      map[string]*Dao{},
	}
}

func (r *Registry) Driver() Driver { return r.driver }
func (r *Registry) Logger() Logger { return r.log }

// Register adds (or replaces) the factory for a key and forgets any instance
// created by the previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.daos, name)
}

// Define registers a factory per definition building a Dao on the registry's
// driver and logger.
func (r *Registry) Define(defs ...Definition) error {
	return r.DefineWithHooks(Hooks{}, defs...)
}

// DefineWithHooks is Define with write hooks attached to every Dao.
func (r *Registry) DefineWithHooks(hooks Hooks, defs ...Definition) error {
	for _, def := range defs {
		if def.Name == "" {
			return NewConfigError("", "Cannot define a Dao without a name")
		}
		r.mu.Lock()
		_, dup := r.factories[def.Name]
		r.mu.Unlock()
		if dup {
			return NewConfigError(def.Name, "Dao is already registered")
		}
		r.Register(def.Name, func(reg *Registry) (*Dao, error) {
			return New(def, Options{Driver: reg.driver, Registry: reg, Logger: reg.log, Hooks: hooks})
		})
	}
	return nil
}

// Dao returns the memoized Dao for a key. The lock is not held while a
// factory runs, so factories may resolve other Daos.
func (r *Registry) Dao(name string) (*Dao, error) {
	r.mu.Lock()
	if d, ok := r.daos[name]; ok {
		r.mu.Unlock()
		return d, nil
	}
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, NewConfigError(name, fmt.Sprintf(`No Dao registered as "%s"`, name))
	}

	d, err := f(r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.daos[name]; ok {
		return existing, nil
	}
	r.daos[name] = d
	return d, nil
}

// Names lists the registered keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
