package core

// TransformRow converts one raw row into a canonical record.
//
// Mapping entries are applied in column order and each value is coerced by
// its field's spec. When several columns feed the same field the entity's
// TieBreak policy decides the winner. Additive numeric fields that end up
// absent or null become 0, then entity defaults fill any remaining absent or
// null field without overwriting real values.
//
// Returns false if the record's natural key is missing; the row is rejected.
func TransformRow(row Row, mapping ColumnMapping, ent *Entity) (Record, bool) {
	rec := make(Record, len(ent.Fields))

	for _, entry := range mapping {
		spec, ok := ent.Field(entry.Field)
		if !ok {
			continue
		}
		value := Coerce(row[entry.Header], spec)

		if ent.TieBreak == FirstColumnWins {
			if prev, exists := rec[entry.Field]; exists && prev != nil {
				continue
			}
		}
		rec[entry.Field] = value
	}

	for _, spec := range ent.Fields {
		if rec[spec.Name] != nil {
			continue
		}
		switch {
		case spec.Type == FieldNumeric && spec.Additive:
			rec[spec.Name] = float64(0)
		case spec.Default != nil:
			rec[spec.Name] = spec.Default
		}
	}

	if _, ok := ent.KeyOf(rec); !ok {
		return nil, false
	}
	return rec, true
}
