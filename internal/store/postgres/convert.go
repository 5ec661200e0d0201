package postgres

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// toPg converts a coerced record value to the pgtype matching its column.
func toPg(f core.FieldSpec, v any) any {
	switch f.Type {
	case core.FieldDate:
		return toPgDate(v)
	case core.FieldNumeric:
		return toPgNumeric(v)
	default:
		return toPgText(v)
	}
}

func toPgText(v any) pgtype.Text {
	s := core.KeyString(v)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgDate expects the YYYY-MM-DD form produced by the coercer.
func toPgDate(v any) pgtype.Date {
	s, ok := v.(string)
	if !ok || s == "" {
		return pgtype.Date{Valid: false}
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

func toPgNumeric(v any) pgtype.Numeric {
	var s string
	switch n := v.(type) {
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		s = n
	default:
		return pgtype.Numeric{Valid: false}
	}

	var num pgtype.Numeric
	if err := num.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return num
}
