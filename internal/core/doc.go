// Package core provides the import engine for spreadsheet data.
//
// This package holds all domain logic independent of any transport or
// storage backend. It can be used by web handlers, CLI tools, or tests
// without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Entities: Manifests registered via the registry. Each [Entity] lists its
//     canonical fields, header aliases, natural key, and optional parent.
//   - Pipeline: [Import] turns a [Dataset] into committed records.
//   - Service: The main entry point for asynchronous imports, progress,
//     cancellation, previews, and history.
//   - Store: The persistence contract implemented under internal/store.
//
// # Entity Registry
//
// Entities are registered at init time using [Register], usually from the
// catalog in internal/core/entities:
//
//	core.Register(&core.Entity{
//	    Key:   "inventory",
//	    Table: "inventory",
//	    Fields: []core.FieldSpec{
//	        {Name: "serial_number", Aliases: []string{"serial no", "imei"}},
//	        {Name: "cost", Type: core.FieldNumeric, Additive: true},
//	    },
//	    NaturalKey: []string{"serial_number"},
//	})
//
// # Import Flow
//
//  1. Headers are matched to fields with [MatchColumns]: exact aliases
//     first, then prefix or suffix matches.
//  2. Each row becomes a [Record] via [TransformRow]; rows without a
//     natural key are rejected.
//  3. [ResolveDuplicates] keeps the last occurrence of each key.
//  4. Child entities drop rows whose parent key is not stored.
//  5. The [Orchestrator] commits batches of [DefaultChunkSize] in order and
//     stops at the first failing batch.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: Database errors (conflicts, constraints, connections)
//   - IMP001-IMP005: Import errors (missing columns, empty files)
//   - FILE001-FILE006: File errors (size, format, headers)
//   - RUN001-RUN005: Run errors (cancelled, timeout, not found)
package core
