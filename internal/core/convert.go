package core

// convert.go coerces raw spreadsheet cells into canonical record values.
//
// These functions handle the messy reality of human-produced spreadsheets:
//   - Dates as spreadsheet serial numbers, day-first text, ISO text, or prose
//   - Currency symbols, rupee markers, and thousand separators in numbers
//   - Accounting negatives written as "(123.45)"
//   - Excel formula prefixes (="value")
//
// Coerce never fails: a value that cannot be interpreted becomes nil, except
// for additive numeric fields which become 0.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/xuri/excelize/v2"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// serialRegex matches plain unsigned numbers that may be spreadsheet serial dates.
var serialRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Serial date bounds: 1 is 1900-01-01 and 2958465 is 9999-12-31.
const (
	minSerialDate = 1
	maxSerialDate = 2958465
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Anchored day-first and ISO patterns, tried in order before the generic parser.
var (
	isoDateRegex      = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	slashDateRegex    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})$`)
	dashDateRegex     = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4}|\d{2})$`)
	dottedDateRegex   = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4}|\d{2})$`)
	currencyWordRegex = regexp.MustCompile(`(?i)\b(inr|usd|rs)\.?`)
)

// numberNoise strips currency symbols, separators, and percent signs.
var numberNoise = strings.NewReplacer(
	"$", "",
	"€", "", // Euro
	"£", "", // Pound
	"₹", "", // Rupee
	"¥", "", // Yen
	",", "",
	" ", "",
	"\u00a0", "", // non-breaking space
	"%", "",
)

// DateLayout is the canonical rendering of date fields.
const DateLayout = "2006-01-02"

// Coerce converts a raw cell into a canonical value according to spec.
func Coerce(raw any, spec FieldSpec) any {
	if isBlank(raw) {
		return nil
	}

	switch spec.Type {
	case FieldDate:
		if d, ok := ToDate(raw); ok {
			return d
		}
		return nil
	case FieldNumeric:
		if n, ok := ToNumber(raw); ok {
			return n
		}
		if spec.Additive {
			return float64(0)
		}
		return nil
	default:
		return ToText(raw)
	}
}

// isBlank reports whether raw is nil or an all-whitespace string.
func isBlank(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(CleanCell(v)) == ""
	default:
		return false
	}
}

// ToDate interprets raw as a date and renders it as YYYY-MM-DD.
// Tries, in order: spreadsheet serial, anchored patterns, generic parse.
func ToDate(raw any) (string, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return v.Format(DateLayout), true
	case string:
		return parseDateString(CleanCell(v))
	default:
		if f, ok := asFloat(raw); ok {
			return serialToDate(f)
		}
		return "", false
	}
}

func parseDateString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if serialRegex.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if d, ok := serialToDate(f); ok {
				return d, true
			}
		}
	}

	// A pattern match with impossible components falls through to the generic parser.
	if m := isoDateRegex.FindStringSubmatch(s); m != nil {
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	for _, re := range []*regexp.Regexp{slashDateRegex, dashDateRegex, dottedDateRegex} {
		if m := re.FindStringSubmatch(s); m != nil {
			if d, ok := buildDate(m[3], m[2], m[1]); ok {
				return d, true
			}
			break
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// serialToDate decodes a 1900-system spreadsheet serial.
func serialToDate(f float64) (string, bool) {
	if math.IsNaN(f) || f < minSerialDate || f > maxSerialDate {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(math.Floor(f), false)
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// buildDate validates calendar components and applies the two-digit year pivot.
func buildDate(year, month, day string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	if len(year) == 2 {
		y = expandTwoDigitYear(y)
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false // e.g. 31/02/2024
	}
	return t.Format(DateLayout), true
}

func expandTwoDigitYear(yy int) int {
	y := 2000 + yy
	if y > time.Now().Year()+TwoDigitYearPivot {
		y -= 100
	}
	return y
}

// ToNumber interprets raw as a number.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToNumber(raw any) (float64, bool) {
	if s, ok := raw.(string); ok {
		return parseNumber(CleanCell(s))
	}
	return asFloat(raw)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = currencyWordRegex.ReplaceAllString(s, "")
	s = numberNoise.Replace(s)

	// Currency written outside the parentheses: "₹(1,200)".
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = s[1 : len(s)-1]
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ToText trims strings and turns blanks into nil.
// Numbers pass through as float64; other scalars are rendered as text.
func ToText(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(CleanCell(v))
		if s == "" {
			return nil
		}
		return s
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(DateLayout)
	default:
		if f, ok := asFloat(raw); ok {
			return f
		}
		return fmt.Sprint(v)
	}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes one pair of surrounding double quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	if len(s) >= 2 && strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		s = s[1 : len(s)-1]
	}

	return strings.TrimSpace(s)
}
