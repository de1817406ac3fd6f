package repository

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by StateRepository.Load when nothing has been saved yet.
var ErrStateNotFound = errors.New("state not found")

// StateRepository persists one opaque state document.
//
// Implementations store the payload under a single fixed key and replace it
// wholesale on every Save.
type StateRepository interface {
	// Name identifies the backend ("redis", "postgres", "sqlite", "file").
	Name() string
	Save(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}
