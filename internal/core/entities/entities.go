// Package entities registers the built-in import entities with the core registry.
// Import this package to ensure all entities are registered.
//
// Entities are declared in catalog.toml, embedded at build time. An operator
// catalog with the same schema can add entities or replace built-ins at
// startup via [Apply].
package entities

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

//go:embed catalog.toml
var builtin string

func init() {
	ents, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("built-in entity catalog: %v", err))
	}
	for _, ent := range ents {
		core.Register(ent)
	}
}

type catalogFile struct {
	Entity []entityDef `toml:"entity"`
}

type entityDef struct {
	Key        string     `toml:"key"`
	Label      string     `toml:"label"`
	Table      string     `toml:"table"`
	NaturalKey []string   `toml:"natural_key"`
	Required   []string   `toml:"required"`
	TieBreak   string     `toml:"tie_break"`
	Parent     *parentDef `toml:"parent"`
	Fields     []fieldDef `toml:"field"`
}

type parentDef struct {
	Entity     string `toml:"entity"`
	Field      string `toml:"field"`
	LocalField string `toml:"local_field"`
}

type fieldDef struct {
	Name     string   `toml:"name"`
	Type     string   `toml:"type"`
	Additive bool     `toml:"additive"`
	Default  any      `toml:"default"`
	Aliases  []string `toml:"aliases"`
}

// Parse decodes a TOML catalog into validated entities.
// Unknown keys are rejected so typos do not silently drop configuration.
func Parse(data string) ([]*core.Entity, error) {
	var cf catalogFile
	md, err := toml.Decode(data, &cf)
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return build(cf, md)
}

// LoadFile reads and decodes a TOML catalog from disk.
func LoadFile(path string) ([]*core.Entity, error) {
	var cf catalogFile
	md, err := toml.DecodeFile(path, &cf)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return build(cf, md)
}

// Apply loads the catalog at path and registers its entities, replacing
// built-ins with the same key. Returns the keys applied.
func Apply(path string) ([]string, error) {
	ents, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ents))
	for _, ent := range ents {
		if err := core.Replace(ent); err != nil {
			return keys, err
		}
		keys = append(keys, ent.Key)
	}
	return keys, nil
}

func build(cf catalogFile, md toml.MetaData) ([]*core.Entity, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown catalog keys: %s", strings.Join(keys, ", "))
	}

	out := make([]*core.Entity, 0, len(cf.Entity))
	for _, def := range cf.Entity {
		ent, err := def.entity()
		if err != nil {
			return nil, err
		}
		if err := core.ValidateEntity(ent); err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

func (d entityDef) entity() (*core.Entity, error) {
	tb, err := core.ParseTieBreak(d.TieBreak)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", d.Key, err)
	}

	ent := &core.Entity{
		Key:        d.Key,
		Label:      d.Label,
		Table:      d.Table,
		NaturalKey: d.NaturalKey,
		Required:   d.Required,
		TieBreak:   tb,
	}
	if ent.Label == "" {
		ent.Label = d.Key
	}
	if d.Parent != nil {
		ent.Parent = &core.ParentRef{
			Entity:     d.Parent.Entity,
			Field:      d.Parent.Field,
			LocalField: d.Parent.LocalField,
		}
	}

	for _, fd := range d.Fields {
		ft, err := core.ParseFieldType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("entity %q field %q: %w", d.Key, fd.Name, err)
		}
		spec := core.FieldSpec{
			Name:     fd.Name,
			Type:     ft,
			Aliases:  fd.Aliases,
			Additive: fd.Additive,
		}
		if fd.Default != nil {
			def, err := coerceDefault(fd.Default, spec)
			if err != nil {
				return nil, fmt.Errorf("entity %q field %q: %w", d.Key, fd.Name, err)
			}
			spec.Default = def
		}
		ent.Fields = append(ent.Fields, spec)
	}
	return ent, nil
}

// coerceDefault converts a TOML literal into the value the field would hold
// after coercion, so defaults and imported values share one representation.
func coerceDefault(v any, spec core.FieldSpec) (any, error) {
	if n, ok := v.(int64); ok {
		v = float64(n)
	}
	out := core.Coerce(v, spec)
	if out == nil {
		return nil, fmt.Errorf("default %v is not a valid %s", v, spec.Type)
	}
	return out, nil
}
