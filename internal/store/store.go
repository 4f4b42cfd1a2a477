package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	SaveStrip(s *Strip) error
	GetStrip(host string) (*Strip, error)
	DeleteStrip(host string) error
	ListStrips() ([]*Strip, error)

	// UpdateStrip atomically reads, modifies, and saves a strip in a single
	// transaction. Returns ErrNotFound if the strip does not exist.
	UpdateStrip(host string, fn func(s *Strip) error) error

	Close() error
}
