// Package storage persists delivery history and notifier dedup state.
//
// Two drivers exist: "file" (JSON Lines next to a dedup snapshot) and
// "sqlite" (a single database file). Storage is optional; Open returns a nil
// Store when it is disabled.
package storage
