package core

// ResolveDuplicates keeps only the last occurrence of each natural key.
//
// A repeated key displaces its earlier record, and the survivor takes the
// position of its last occurrence, so records whose key appears once keep
// their relative order. Keys are compared after trimming. Records without a
// key are kept in place.
//
// Returns the resolved records and the number of records dropped.
func ResolveDuplicates(records []Record, keyFields []string) ([]Record, int) {
	keys := make([]string, len(records))
	hasKey := make([]bool, len(records))
	last := make(map[string]int, len(records))

	for i, rec := range records {
		k, ok := recordKey(rec, keyFields)
		if !ok {
			continue
		}
		keys[i], hasKey[i] = k, true
		last[k] = i
	}

	out := make([]Record, 0, len(last))
	for i, rec := range records {
		if hasKey[i] && last[keys[i]] != i {
			continue
		}
		out = append(out, rec)
	}
	return out, len(records) - len(out)
}
