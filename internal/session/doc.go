// Package session persists synchronization sessions in SQLite and defines
// their lifecycle.
//
// The Store manages database connections, schema initialization, status
// transitions, and the append-only iteration audit trail. Sessions move
// strictly forward through their statuses; terminal sessions are immutable
// and refuse further updates.
//
// Treat this package as the single source of truth for session semantics;
// when you add new statuses or metadata fields, update schema.sql and bump
// schemaVersion.
package session
