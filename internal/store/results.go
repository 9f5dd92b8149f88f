package store

import (
	"context"
	"errors"
)

// ErrResultNotFound is returned by Load when no artifact exists for an id.
var ErrResultNotFound = errors.New("result not found")

// Results persists one JSON artifact per extraction id. Save must be atomic:
// a concurrent Load sees either nothing or the complete artifact.
type Results interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
}

// ArtifactName is the file or object name of an extraction's artifact.
func ArtifactName(id string) string { return id + ".json" }
