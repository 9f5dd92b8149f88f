package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// LocalResults stores artifacts as {dir}/{id}.json.
type LocalResults struct {
	dir string
}

func NewLocalResults(dir string) (*LocalResults, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &LocalResults{dir: dir}, nil
}

func (l *LocalResults) Dir() string { return l.dir }

func (l *LocalResults) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid extraction id %q", id)
	}
	return filepath.Join(l.dir, ArtifactName(id)), nil
}

// Save writes to a temp file in the same directory and renames it into place.
func (l *LocalResults) Save(ctx context.Context, id string, data []byte) error {
	p, err := l.path(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish artifact: %w", err)
	}
	log.Debug().Str("extraction_id", id).Str("path", p).Int("bytes", len(data)).Msg("saved result artifact")
	return nil
}

func (l *LocalResults) Load(ctx context.Context, id string) ([]byte, error) {
	p, err := l.path(id)
	if err != nil {
		return nil, ErrResultNotFound
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return b, nil
}

// Ping checks the results directory is writable.
func (l *LocalResults) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(l.dir, ".ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
