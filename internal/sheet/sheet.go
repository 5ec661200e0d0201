// Package sheet reads uploaded spreadsheets into core datasets.
//
// Supported formats are CSV (UTF-8, UTF-16 with BOM, or Windows-1252, with
// comma, semicolon, or tab delimiters) and XLSX workbooks, of which only the
// first sheet is read. The first row is the header row. Cell values are
// returned as raw strings; XLSX date cells arrive as spreadsheet serials and
// are interpreted by the core coercer.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// DefaultMaxFileSize is the upload limit when none is configured (100MB).
const DefaultMaxFileSize int64 = 100 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrLegacyXLS       = errors.New("legacy .xls workbooks are not supported")
	ErrNoHeader        = errors.New("no header row")
	ErrTooLarge        = errors.New("file too large")
)

// Format identifies a spreadsheet container.
type Format int

const (
	FormatCSV Format = iota + 1
	FormatXLSX
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// DetectFormat decides the format from the leading bytes, then the file extension.
// Content wins over the extension, so a workbook renamed to .csv is still read as XLSX.
func DetectFormat(name string, head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(head, oleMagic):
		return 0, ErrLegacyXLS
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xls":
		return 0, ErrLegacyXLS
	case ".xlsx", ".xlsm":
		return 0, fmt.Errorf("read spreadsheet %s: not a valid workbook", filepath.Base(name))
	case "":
		return 0, fmt.Errorf("%w: file has no extension", ErrUnsupportedType)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

// ValidateFileType checks the name and leading bytes without reading the whole file.
func ValidateFileType(name string, head []byte) error {
	_, err := DetectFormat(name, head)
	return err
}

// Read consumes r and parses it as the spreadsheet named name.
// Returns ErrTooLarge if r holds more than maxSize bytes.
func Read(name string, r io.Reader, maxSize int64) (*core.Dataset, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet %s: %w", filepath.Base(name), err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, filepath.Base(name), maxSize)
	}
	return Parse(name, data)
}

// ReadFile opens and parses a spreadsheet from disk.
func ReadFile(path string, maxSize int64) (*core.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(path, f, maxSize)
}

// Parse converts raw file bytes into a dataset.
func Parse(name string, data []byte) (*core.Dataset, error) {
	format, err := DetectFormat(name, data)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch format {
	case FormatXLSX:
		records, err = readXLSX(data)
	default:
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet %s: %w", filepath.Base(name), err)
	}

	ds, err := build(records)
	if err != nil {
		return nil, err
	}
	ds.Name = filepath.Base(name)
	ds.Fingerprint = Fingerprint(data)
	return ds, nil
}

// Fingerprint returns a stable content hash identifying the uploaded file.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// build turns header plus data records into a dataset.
// Fully blank rows are skipped and short rows are padded.
func build(records [][]string) (*core.Dataset, error) {
	if len(records) == 0 {
		return nil, ErrNoHeader
	}
	headers := uniqueHeaders(records[0])
	blank := true
	for _, h := range headers {
		if h != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, ErrNoHeader
	}

	ds := &core.Dataset{
		Headers: headers,
		Rows:    make([]core.Row, 0, len(records)-1),
	}
	for _, rec := range records[1:] {
		if isBlankRecord(rec) {
			continue
		}
		row := make(core.Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// uniqueHeaders trims headers and suffixes repeats: "Amount", "Amount_2", "Amount_3".
func uniqueHeaders(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	count := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		name := h
		for used[name] {
			count[h]++
			name = h + "_" + strconv.Itoa(count[h]+1)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
