package core

// matcher.go maps source headers onto canonical fields.
//
// Matching runs in two passes:
//  1. Exact: the normalized header equals a normalized alias.
//  2. Affix: for headers still unmatched, the normalized header starts or
//     ends with a normalized alias.
//
// Within each pass the first canonical field in declaration order wins, and
// a pass-1 match is never revisited. A field's own name always counts as one
// of its aliases. Several headers may map to the same field; the row
// transformer resolves that with the entity's TieBreak policy.

// AliasEntry lists the accepted header spellings for one canonical field.
type AliasEntry struct {
	Field   string
	Aliases []string
}

// AliasTable is an ordered list of alias entries.
type AliasTable []AliasEntry

// MappingEntry binds one source header to a canonical field.
type MappingEntry struct {
	Header string `json:"header"`
	Field  string `json:"field"`
}

// ColumnMapping is ordered by source column position.
type ColumnMapping []MappingEntry

// Has reports whether any header maps to field.
func (m ColumnMapping) Has(field string) bool {
	for _, e := range m {
		if e.Field == field {
			return true
		}
	}
	return false
}

// FieldFor returns the field a header maps to.
func (m ColumnMapping) FieldFor(header string) (string, bool) {
	for _, e := range m {
		if e.Header == header {
			return e.Field, true
		}
	}
	return "", false
}

// Fields returns the distinct mapped fields in first-seen order.
func (m ColumnMapping) Fields() []string {
	seen := make(map[string]bool, len(m))
	var out []string
	for _, e := range m {
		if !seen[e.Field] {
			seen[e.Field] = true
			out = append(out, e.Field)
		}
	}
	return out
}

type normalizedEntry struct {
	field   string
	aliases []string
}

// normalizeAliases pre-normalizes the table, prepending each field's own name.
func normalizeAliases(table AliasTable) []normalizedEntry {
	out := make([]normalizedEntry, len(table))
	for i, entry := range table {
		ne := normalizedEntry{field: entry.Field}
		seen := make(map[string]bool, len(entry.Aliases)+1)
		for _, a := range append([]string{entry.Field}, entry.Aliases...) {
			n := NormalizeHeader(a)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			ne.aliases = append(ne.aliases, n)
		}
		out[i] = ne
	}
	return out
}

// MatchColumns maps each source header to at most one canonical field.
// Unmatched headers are omitted from the result.
func MatchColumns(headers []string, table AliasTable) ColumnMapping {
	entries := normalizeAliases(table)

	matched := make([]string, len(headers))
	normalized := make([]string, len(headers))
	seenHeader := make(map[string]bool, len(headers))
	for i, h := range headers {
		if seenHeader[h] {
			continue
		}
		seenHeader[h] = true
		normalized[i] = NormalizeHeader(h)
	}

	// Pass 1: exact.
	for i, nh := range normalized {
		if nh == "" {
			continue
		}
		matched[i] = firstMatch(entries, func(alias string) bool { return nh == alias })
	}

	// Pass 2: prefix or suffix, only for headers pass 1 left alone.
	for i, nh := range normalized {
		if nh == "" || matched[i] != "" {
			continue
		}
		matched[i] = firstMatch(entries, func(alias string) bool {
			return hasAffix(nh, alias)
		})
	}

	mapping := make(ColumnMapping, 0, len(headers))
	for i, field := range matched {
		if field != "" {
			mapping = append(mapping, MappingEntry{Header: headers[i], Field: field})
		}
	}
	return mapping
}

// UnmatchedHeaders returns the non-blank headers absent from mapping, in column order.
func UnmatchedHeaders(headers []string, mapping ColumnMapping) []string {
	var out []string
	for _, h := range headers {
		if NormalizeHeader(h) == "" {
			continue
		}
		if _, ok := mapping.FieldFor(h); !ok {
			out = append(out, h)
		}
	}
	return out
}

func firstMatch(entries []normalizedEntry, match func(alias string) bool) string {
	for _, e := range entries {
		for _, a := range e.aliases {
			if match(a) {
				return e.field
			}
		}
	}
	return ""
}

func hasAffix(header, alias string) bool {
	if len(alias) > len(header) {
		return false
	}
	return header[:len(alias)] == alias || header[len(header)-len(alias):] == alias
}
