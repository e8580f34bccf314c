// Package storage provides the optional persistence backend: backup
// snapshots and an append-only audit of task runs.
//
// Two drivers are available. The "file" driver is dependency-free and
// keeps snapshots as plain JSON files next to a JSON Lines run log.
// The "sqlite" driver stores both in a single database file and is
// compiled in with the "sqlite" build tag.
package storage
