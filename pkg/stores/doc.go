// Package stores persists the execution history of the symgraph CLI in
// SQLite (modernc.org/sqlite, no cgo). The schema is applied with
// golang-migrate from migrations embedded in the binary.
package stores
