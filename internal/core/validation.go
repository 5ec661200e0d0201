package core

// validation.go checks entity manifests before they reach the registry.
//
// A manifest is rejected when it could produce unsafe SQL or an engine state
// the pipeline cannot honour: identifiers outside [a-z_][a-z0-9_]*, a natural
// key naming an undeclared field, required fields or defaults on unknown
// fields, or a parent reference without a local field.

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidationError represents a single problem with an entity manifest.
type ValidationError struct {
	Field   string // Manifest field or canonical field name
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidEntityKey reports whether key is usable as a registry key and SQL identifier.
func ValidEntityKey(key string) bool {
	return identifierRegex.MatchString(key)
}

// ValidateEntity returns all manifest problems joined into one error, or nil.
func ValidateEntity(ent *Entity) error {
	if ent == nil {
		return errors.New("entity is nil")
	}

	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !identifierRegex.MatchString(ent.Key) {
		add("key", "must match %s, got %q", identifierRegex.String(), ent.Key)
	}
	if !identifierRegex.MatchString(ent.Table) {
		add("table", "must match %s, got %q", identifierRegex.String(), ent.Table)
	}
	if len(ent.Fields) == 0 {
		add("fields", "at least one field is required")
	}

	declared := make(map[string]bool, len(ent.Fields))
	for _, f := range ent.Fields {
		if !identifierRegex.MatchString(f.Name) {
			add("fields", "invalid field name %q", f.Name)
			continue
		}
		if declared[f.Name] {
			add(f.Name, "declared more than once")
		}
		declared[f.Name] = true
		if f.Additive && f.Type != FieldNumeric {
			add(f.Name, "only numeric fields can be additive")
		}
	}

	if len(ent.NaturalKey) == 0 {
		add("natural_key", "at least one field is required")
	}
	for _, k := range ent.NaturalKey {
		if !declared[k] {
			add("natural_key", "unknown field %q", k)
		}
	}
	for _, r := range ent.Required {
		if !declared[r] {
			add("required", "unknown field %q", r)
		}
	}

	if p := ent.Parent; p != nil {
		if strings.TrimSpace(p.Entity) == "" || strings.TrimSpace(p.Field) == "" {
			add("parent", "entity and field are required")
		}
		if !declared[p.Local()] {
			add("parent", "local field %q is not declared", p.Local())
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("entity %q: %w", ent.Key, errors.Join(errs...))
}
