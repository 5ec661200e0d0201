// Package sqlgen builds the SQL shared by the relational stores.
//
// Every entity maps to one table whose columns are the entity's canonical
// fields and whose primary key is the natural key. Upserts are multi-row
// INSERT ... ON CONFLICT statements that replace every non-key column, so
// re-importing the same records leaves the table unchanged.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name string

	// MaxParams bounds the bind parameters in one statement.
	MaxParams int

	// IfNotExistsColumn is true when ALTER TABLE ADD COLUMN accepts IF NOT EXISTS.
	IfNotExistsColumn bool

	placeholder func(n int) string
	types       map[core.FieldType]string
	numericKey  string // format for rendering a numeric column as a key part
}

// Postgres uses $n placeholders and native DATE/NUMERIC columns.
var Postgres = Dialect{
	Name:              "postgres",
	MaxParams:         65535,
	IfNotExistsColumn: true,
	placeholder:       func(n int) string { return "$" + strconv.Itoa(n) },
	types: map[core.FieldType]string{
		core.FieldText:    "TEXT",
		core.FieldDate:    "DATE",
		core.FieldNumeric: "NUMERIC",
	},
	numericKey: "trim_scale(%s)::text",
}

// SQLite stores dates as ISO text and numbers as REAL.
var SQLite = Dialect{
	Name:        "sqlite",
	MaxParams:   32766,
	placeholder: func(int) string { return "?" },
	types: map[core.FieldType]string{
		core.FieldText:    "TEXT",
		core.FieldDate:    "TEXT",
		core.FieldNumeric: "REAL",
	},
	numericKey: "CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) THEN CAST(CAST(%[1]s AS INTEGER) AS TEXT) ELSE CAST(%[1]s AS TEXT) END",
}

// Statement is a query with its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// QuoteIdent quotes an identifier for use in SQL.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

// ColumnType returns the column type for a field type.
func (d Dialect) ColumnType(t core.FieldType) string {
	if typ, ok := d.types[t]; ok {
		return typ
	}
	return "TEXT"
}

// CreateTable returns the DDL for an entity table.
func (d Dialect) CreateTable(ent *core.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdent(ent.Table))
	for _, f := range ent.Fields {
		fmt.Fprintf(&b, "\t%s %s,\n", QuoteIdent(f.Name), d.ColumnType(f.Type))
	}
	fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n)", quoteList(ent.NaturalKey))
	return b.String()
}

// AddColumn returns the DDL adding a field to an existing entity table.
func (d Dialect) AddColumn(ent *core.Entity, f core.FieldSpec) string {
	ifNotExists := ""
	if d.IfNotExistsColumn {
		ifNotExists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s %s",
		QuoteIdent(ent.Table), ifNotExists, QuoteIdent(f.Name), d.ColumnType(f.Type))
}

// BatchRows returns how many records fit in one upsert statement.
func (d Dialect) BatchRows(ent *core.Entity) int {
	n := d.MaxParams / len(ent.Fields)
	if n < 1 {
		return 1
	}
	return n
}

// Upsert returns statements inserting records into the entity table,
// replacing every non-key column of rows that already exist.
func (d Dialect) Upsert(ent *core.Entity, records []core.Record, convert func(core.FieldSpec, any) any) []Statement {
	if len(records) == 0 || len(ent.Fields) == 0 {
		return nil
	}
	if convert == nil {
		convert = func(_ core.FieldSpec, v any) any { return v }
	}

	per := d.BatchRows(ent)
	var stmts []Statement
	for start := 0; start < len(records); start += per {
		end := min(start+per, len(records))
		stmts = append(stmts, d.upsertChunk(ent, records[start:end], convert))
	}
	return stmts
}

func (d Dialect) upsertChunk(ent *core.Entity, records []core.Record, convert func(core.FieldSpec, any) any) Statement {
	var b strings.Builder
	cols := ent.Columns()
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", QuoteIdent(ent.Table), quoteList(cols))

	args := make([]any, 0, len(records)*len(cols))
	n := 0
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, f := range ent.Fields {
			if j > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(d.placeholder(n))
			args = append(args, convert(f, rec[f.Name]))
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", quoteList(ent.NaturalKey))
	updates := updateColumns(ent)
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		for i, c := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			q := QuoteIdent(c)
			fmt.Fprintf(&b, "%s = excluded.%s", q, q)
		}
	}
	return Statement{SQL: b.String(), Args: args}
}

// KeyExpr renders fields as the "|"-joined key string used by core.Entity.KeyOf.
func (d Dialect) KeyExpr(ent *core.Entity, fields []string) string {
	parts := make([]string, len(fields))
	for i, name := range fields {
		col := QuoteIdent(name)
		var expr string
		f, _ := ent.Field(name)
		switch f.Type {
		case core.FieldNumeric:
			expr = fmt.Sprintf(d.numericKey, col)
		case core.FieldDate:
			expr = "CAST(" + col + " AS TEXT)"
		default:
			expr = col
		}
		parts[i] = "COALESCE(" + expr + ", '')"
	}
	return strings.Join(parts, " || '|' || ")
}

// ExistingKeys returns statements selecting which keys are stored.
// Each statement returns a single text column holding the matched key.
func (d Dialect) ExistingKeys(ent *core.Entity, fields []string, keys []string) []Statement {
	if len(keys) == 0 || len(fields) == 0 {
		return nil
	}
	expr := d.KeyExpr(ent, fields)
	prefix := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (", expr, QuoteIdent(ent.Table), expr)

	var stmts []Statement
	for start := 0; start < len(keys); start += d.MaxParams {
		end := min(start+d.MaxParams, len(keys))
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, end-start)
		for i, k := range keys[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.placeholder(i + 1))
			args = append(args, k)
		}
		b.WriteByte(')')
		stmts = append(stmts, Statement{SQL: b.String(), Args: args})
	}
	return stmts
}

// updateColumns returns the non-key columns in declaration order.
func updateColumns(ent *core.Entity) []string {
	key := make(map[string]bool, len(ent.NaturalKey))
	for _, k := range ent.NaturalKey {
		key[k] = true
	}
	var cols []string
	for _, f := range ent.Fields {
		if !key[f.Name] {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
