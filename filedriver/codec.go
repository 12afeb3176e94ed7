/*
Package filedriver – file-source backing resource.

Each resource is one file holding a list of rows. A Source reads and writes
those files; the Driver adapts a Source to the Dao driver contract.
*/
package filedriver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec encodes a resource file.
type Codec interface {
	// Ext is the file extension without dot.
	Ext() string
	Decode(b []byte) ([]map[string]any, error)
	Encode(rows []map[string]any) ([]byte, error)
}

// JSONCodec stores a resource as a JSON array of objects.
type JSONCodec struct {
	Indent bool
}

func (JSONCodec) Ext() string { return "json" }

func (JSONCodec) Decode(b []byte) ([]map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return rows, nil
}

func (c JSONCodec) Encode(rows []map[string]any) ([]byte, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	if c.Indent {
		return json.MarshalIndent(rows, "", "  ")
	}
	return json.Marshal(rows)
}

// YAMLCodec stores a resource as a YAML sequence of mappings.
type YAMLCodec struct{}

func (YAMLCodec) Ext() string { return "yaml" }

func (YAMLCodec) Decode(b []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := yaml.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return rows, nil
}

func (YAMLCodec) Encode(rows []map[string]any) ([]byte, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CodecByName resolves "json" or "yaml".
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "json", "":
		return JSONCodec{Indent: true}, true
	case "yaml", "yml":
		return YAMLCodec{}, true
	}
	return nil, false
}
