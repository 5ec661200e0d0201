package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType represents the expected data type for a canonical field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
	FieldNumeric
)

// String returns the catalog spelling of the type.
func (t FieldType) String() string {
	switch t {
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	default:
		return "text"
	}
}

// ParseFieldType converts a catalog type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FieldText, nil
	case "date":
		return FieldDate, nil
	case "numeric", "number":
		return FieldNumeric, nil
	default:
		return FieldText, fmt.Errorf("unknown field type %q", s)
	}
}

// FieldSpec describes one canonical field of an entity.
type FieldSpec struct {
	Name     string    // Canonical name, also the store column
	Type     FieldType // Coercion rule
	Aliases  []string  // Header spellings accepted for this field
	Additive bool      // Numeric amount that defaults to 0 instead of null
	Default  any       // Injected when the field is absent or null; nil means none
}

// TieBreak decides which column wins when several headers map to one field.
type TieBreak int

const (
	// LastColumnWins lets later columns overwrite earlier ones, including with null.
	LastColumnWins TieBreak = iota
	// FirstColumnWins keeps the first column that produced a non-null value.
	FirstColumnWins
)

// String returns the catalog spelling of the policy.
func (t TieBreak) String() string {
	if t == FirstColumnWins {
		return "first"
	}
	return "last"
}

// ParseTieBreak converts a catalog policy name to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return LastColumnWins, nil
	case "first":
		return FirstColumnWins, nil
	default:
		return LastColumnWins, fmt.Errorf("unknown tie-break policy %q", s)
	}
}

// ParentRef names a parent entity whose stored keys filter this entity's rows.
type ParentRef struct {
	Entity     string // Registry key of the parent entity
	Field      string // Field on the parent holding the referenced value
	LocalField string // Field on this entity; defaults to Field
}

// Local returns the field on the child entity that carries the reference.
func (p ParentRef) Local() string {
	if p.LocalField != "" {
		return p.LocalField
	}
	return p.Field
}

// Entity is the manifest that parameterizes the import engine for one kind of record.
type Entity struct {
	Key        string      // Unique identifier: "inventory"
	Label      string      // Display name: "Inventory"
	Table      string      // Store table name
	Fields     []FieldSpec // Declaration order is significant for matching
	NaturalKey []string    // Field(s) identifying a record
	Required   []string    // Fields that must be mapped; the natural key is always required
	TieBreak   TieBreak
	Parent     *ParentRef
}

// Field returns the spec for a canonical field.
func (e *Entity) Field(name string) (FieldSpec, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the canonical field names in declaration order.
func (e *Entity) Columns() []string {
	cols := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Aliases builds the alias table used by the column matcher.
func (e *Entity) Aliases() AliasTable {
	table := make(AliasTable, len(e.Fields))
	for i, f := range e.Fields {
		table[i] = AliasEntry{Field: f.Name, Aliases: f.Aliases}
	}
	return table
}

// RequiredFields returns the natural key followed by the other required fields, without repeats.
func (e *Entity) RequiredFields() []string {
	seen := make(map[string]bool, len(e.NaturalKey)+len(e.Required))
	var out []string
	for _, name := range append(append([]string{}, e.NaturalKey...), e.Required...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// KeyOf returns the natural key of a record.
// Returns false if any part is null or blank.
func (e *Entity) KeyOf(rec Record) (string, bool) {
	return recordKey(rec, e.NaturalKey)
}

// recordKey joins the trimmed key parts with "|".
func recordKey(rec Record, fields []string) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		s := KeyString(rec[f])
		if s == "" {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, "|"), true
}

// KeyString renders a record value for key comparison.
func KeyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// Row is one raw spreadsheet row keyed by source header.
type Row map[string]any

// Record is one canonical record keyed by field name.
// Values are nil, string (text, or a date as YYYY-MM-DD), or float64.
type Record map[string]any

// Dataset is a parsed spreadsheet ready for import.
type Dataset struct {
	Name        string   // Original file name
	Headers     []string // First row, in column order
	Rows        []Row
	Fingerprint string // Content hash of the source file
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting     ImportPhase = "starting"
	PhaseMapping      ImportPhase = "mapping"
	PhaseTransforming ImportPhase = "transforming"
	PhaseCommitting   ImportPhase = "committing"
	PhaseComplete     ImportPhase = "complete"
	PhaseFailed       ImportPhase = "failed"
	PhaseCancelled    ImportPhase = "cancelled"
)

// Progress is a discrete progress event emitted during an import.
type Progress struct {
	ImportID         string      `json:"import_id,omitempty"`
	Entity           string      `json:"entity"`
	FileName         string      `json:"file_name,omitempty"`
	Phase            ImportPhase `json:"phase"`
	TotalBatches     int         `json:"total_batches"`
	BatchesDone      int         `json:"batches_done"`
	RecordsTotal     int         `json:"records_total"`
	RecordsCommitted int         `json:"records_committed"`
	Error            string      `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.TotalBatches > 0 {
		return (p.BatchesDone * 100) / p.TotalBatches
	}
	if p.Phase == PhaseComplete {
		return 100
	}
	return 0
}

// ProgressFunc receives progress events. It is called synchronously from the import goroutine.
type ProgressFunc func(Progress)

// ImportResult is the summary of one import run.
type ImportResult struct {
	ImportID            string        `json:"import_id,omitempty"`
	Entity              string        `json:"entity"`
	FileName            string        `json:"file_name,omitempty"`
	TotalRowsRead       int           `json:"total_rows_read"`
	RecordsAccepted     int           `json:"records_accepted"`
	RecordsRejected     int           `json:"records_rejected"`
	RecordsSkipped      int           `json:"records_skipped"`
	DuplicatesCollapsed int           `json:"duplicates_collapsed"`
	BatchesCommitted    int           `json:"batches_committed"`
	BatchesFailed       int           `json:"batches_failed"`
	BatchesResumed      int           `json:"batches_resumed"`
	Cancelled           bool          `json:"cancelled"`
	FirstError          string        `json:"first_error,omitempty"`
	UnmatchedHeaders    []string      `json:"unmatched_headers,omitempty"`
	Duration            time.Duration `json:"duration"`
}

// Succeeded reports whether the run committed everything it set out to commit.
func (r *ImportResult) Succeeded() bool {
	return r.FirstError == "" && r.BatchesFailed == 0 && !r.Cancelled
}
