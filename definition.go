/*
Package rincewind – Dao definitions.

A Definition declares everything a Dao knows about its resource. Definitions
are written in Go or loaded from YAML/JSON documents.
*/
package rincewind

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RefKind names the shape of a relationship.
type RefKind int

const (
	ToOne RefKind = iota
	ToMany
	JoinToMany
)

func (k RefKind) String() string {
	switch k {
	case ToOne:
		return "toOne"
	case ToMany:
		return "toMany"
	case JoinToMany:
		return "joinToMany"
	}
	return fmt.Sprintf("RefKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k RefKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RefKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "toone", "to_one", "one":
		*k = ToOne
	case "tomany", "to_many", "many":
		*k = ToMany
	case "jointomany", "join_to_many", "join":
		*k = JoinToMany
	default:
		return fmt.Errorf("unknown reference type %q", string(b))
	}
	return nil
}

// RefDef declares one named relationship. Dao is the registry key of the
// foreign Dao, never an instance.
//
// LocalKey may be empty when the reference attribute itself holds the id (or
// the embedded data). ForeignKey defaults to the foreign Dao's id attribute.
type RefDef struct {
	Kind       RefKind `yaml:"type" json:"type"`
	Dao        string  `yaml:"dao" json:"dao"`
	LocalKey   string  `yaml:"localKey,omitempty" json:"localKey,omitempty"`
	ForeignKey string  `yaml:"foreignKey,omitempty" json:"foreignKey,omitempty"`

	// join-table relationships only
	JoinDao        string `yaml:"joinDao,omitempty" json:"joinDao,omitempty"`
	JoinLocalKey   string `yaml:"joinLocalKey,omitempty" json:"joinLocalKey,omitempty"`
	JoinForeignKey string `yaml:"joinForeignKey,omitempty" json:"joinForeignKey,omitempty"`
}

// Definition is the schema for one Dao.
type Definition struct {
	Name     string `yaml:"name" json:"name"`
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"` // defaults to Name

	Attributes           map[string]AttributeType `yaml:"attributes" json:"attributes"`
	AdditionalAttributes map[string]AttributeType `yaml:"additionalAttributes,omitempty" json:"additionalAttributes,omitempty"`

	NullAttributes         []string `yaml:"nullAttributes,omitempty" json:"nullAttributes,omitempty"`
	DefaultValueAttributes []string `yaml:"defaultValueAttributes,omitempty" json:"defaultValueAttributes,omitempty"`

	ImportMapping map[string]string `yaml:"importMapping,omitempty" json:"importMapping,omitempty"` // storage → app
	ExportMapping map[string]string `yaml:"exportMapping,omitempty" json:"exportMapping,omitempty"` // app → storage

	DefaultSort string `yaml:"defaultSort,omitempty" json:"defaultSort,omitempty"`
	IDAttribute string `yaml:"idAttribute,omitempty" json:"idAttribute,omitempty"` // defaults to "id"

	References map[string]RefDef `yaml:"references,omitempty" json:"references,omitempty"`

	// UpdateChangedOnly restricts updates to the changed-attribute set.
	UpdateChangedOnly bool `yaml:"updateChangedOnly,omitempty" json:"updateChangedOnly,omitempty"`
}

// definitionsDoc is the top-level document read by LoadDefinitions.
type definitionsDoc struct {
	Daos []Definition `yaml:"daos"`
}

// LoadDefinitions reads a YAML (or JSON) document of the form
//
//	daos:
//	  - name: user
//	    resource: users
//	    attributes: {id: int, name: text, status: "enum(active,idle)"}
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var doc definitionsDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	seen := map[string]bool{}
	for _, def := range doc.Daos {
		if def.Name == "" {
			return nil, NewConfigError("", "definition without a name")
		}
		if seen[def.Name] {
			return nil, NewConfigError(def.Name, "defined twice")
		}
		seen[def.Name] = true
	}
	return doc.Daos, nil
}

// WriteDefinitions encodes definitions in the LoadDefinitions format.
func WriteDefinitions(w io.Writer, defs []Definition) error {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(definitionsDoc{Daos: sorted}); err != nil {
		return fmt.Errorf("encode definitions: %w", err)
	}
	return nil
}
