// Package audit persists capability audit entries.
//
// FileSink plugs into capability.AuditLog as a sink and writes one JSON
// line per check into a zstd stream. ReadFile reads the file back.
package audit
