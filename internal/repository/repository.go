// Package repository is the data access layer over PostgreSQL. Each
// repository wraps a pgx pool and returns models or sentinel errors; no
// business rules live here.
package repository

import "errors"

// ErrNotFound is returned when an update or lookup targets a missing row
// and pgx.ErrNoRows is not already in play.
var ErrNotFound = errors.New("record not found")
