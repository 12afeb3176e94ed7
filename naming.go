/*
Package rincewind – attribute name mapping.
*/
package rincewind

// NameMapping translates between storage-side names (bad_name) and
// application-side names (goodName). Only one direction needs configuring for
// a pure rename: a miss in one map falls back to the reverse of the other, and
// a miss in both passes the name through unchanged.
//
// A NameMapping is immutable after construction.
type NameMapping struct {
	imports map[string]string // storage → app
	exports map[string]string // app → storage

	importsReversed map[string]string // app → storage
	exportsReversed map[string]string // storage → app
}

// NewNameMapping builds a mapping from the import (storage → app) and
// export (app → storage) tables. Either may be nil.
func NewNameMapping(imports, exports map[string]string) *NameMapping {
	m := &NameMapping{
		imports:         copyStrings(imports),
		exports:         copyStrings(exports),
		importsReversed: map[string]string{},
		exportsReversed: map[string]string{},
	}
	for storage, app := range m.imports {
		m.importsReversed[app] = storage
	}
	for app, storage := range m.exports {
		m.exportsReversed[storage] = app
	}
	return m
}

// ToStorageName returns the backing-resource name of an application attribute.
func (m *NameMapping) ToStorageName(app string) string {
	if m == nil {
		return app
	}
	if s, ok := m.exports[app]; ok {
		return s
	}
	if s, ok := m.importsReversed[app]; ok {
		return s
	}
	return app
}

// ToAppName returns the application name of a backing-resource attribute.
func (m *NameMapping) ToAppName(storage string) string {
	if m == nil {
		return storage
	}
	if a, ok := m.imports[storage]; ok {
		return a
	}
	if a, ok := m.exportsReversed[storage]; ok {
		return a
	}
	return storage
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
