package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Users quote the code; support staff look it up here.
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Conflicting rows: the same key appeared twice in one batch
//	DB002 - Not-null violation: a column the table requires was empty
//	DB003 - Connection refused
//	DB004 - Connection reset
//	DB005 - Timeout
//	DB006 - Deadlock
//	DB007 - Database locked (SQLite busy)
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Missing required column
//	IMP002 - No data rows in file
//	IMP003 - No rows matched parent records
//	IMP004 - Unknown entity
//	IMP005 - No store configured
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Unsupported file type
//	FILE003 - Legacy .xls workbook
//	FILE004 - Unreadable spreadsheet
//	FILE005 - No file provided
//	FILE006 - Missing header row
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Import cancelled
//	RUN002 - Too many imports in progress
//	RUN003 - Import not found
//	RUN004 - Request cancelled
//	RUN005 - Request timed out
//
// # Rate Limiting (RATE001)
//
// # Default (ERR000)
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns precede general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Store
	{"cannot affect row a second time", UserMessage{"The same record appears twice in one batch", "Remove duplicate keys from the file and retry", "DB001"}},
	{"duplicate key", UserMessage{"The same record appears twice in one batch", "Remove duplicate keys from the file and retry", "DB001"}},
	{"not-null constraint", UserMessage{"A required value is empty", "Fill in the empty column and retry", "DB002"}},
	{"not null constraint", UserMessage{"A required value is empty", "Fill in the empty column and retry", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again; committed batches are kept", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB006"}},
	{"database is locked", UserMessage{"Database is busy", "Please try again", "DB007"}},

	// Import
	{"missing required column", UserMessage{"Required column is missing from the file", "Check the headers against the entity's accepted column names", "IMP001"}},
	{"no data rows", UserMessage{"The file has a header but no data rows", "Upload a file with at least one data row", "IMP002"}},
	{"no valid rows remain", UserMessage{"No rows refer to existing parent records", "Import the parent records first", "IMP003"}},
	{"unknown entity", UserMessage{"This import type is not configured", "Verify the entity name", "IMP004"}},
	{"no store configured", UserMessage{"Imports are disabled on this server", "Contact your administrator", "IMP005"}},

	// File
	{"file too large", UserMessage{"File exceeds maximum size limit", "Split the file into smaller files", "FILE001"}},
	{"legacy .xls", UserMessage{"Legacy Excel 97-2003 workbooks are not supported", "Save the workbook as .xlsx or .csv", "FILE003"}},
	{"unsupported file type", UserMessage{"Unsupported file type", "Upload an .xlsx or .csv file", "FILE002"}},
	{"read spreadsheet", UserMessage{"The spreadsheet could not be read", "Re-export the file and try again", "FILE004"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to upload", "FILE005"}},
	{"no header row", UserMessage{"The file has no header row", "Put column names in the first row", "FILE006"}},

	// Run
	{"import cancelled", UserMessage{"Import was cancelled", "Start a new import when ready; committed batches are kept", "RUN001"}},
	{"too many concurrent imports", UserMessage{"System busy: too many imports in progress", "Please wait a moment and try again", "RUN002"}},
	{"import not found", UserMessage{"Import session not found", "The import may have expired. Please start a new one", "RUN003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "RUN004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or check your connection", "RUN005"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
