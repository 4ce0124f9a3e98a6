// Package logsieve is the client SDK for the logsieve HTTP API: record
// ingestion and search.
package logsieve
