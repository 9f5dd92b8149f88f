package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	// SectionExtractQuestions is the prompt section used by the extraction worker.
	SectionExtractQuestions = "extract_questions"
	// DefaultTaskType selects the default prompt inside a section.
	DefaultTaskType = "cuet-ug"

	defaultExtractPrompt = "You are an assistant specialized in extracting questions from educational materials. Analyze the image and extract all questions, options, and answers present. Format the response as JSON according to the schema provided."
)

var ErrPromptNotFound = errors.New("prompt not found")

// File maps section -> task type -> prompt text.
type File map[string]map[string]string

// Defaults returns the prompt file written when none exists.
func Defaults() File {
	return File{SectionExtractQuestions: {DefaultTaskType: defaultExtractPrompt}}
}

// Store reads prompts from a JSON file. The file is re-read on every lookup so
// edits apply to the next extraction without a restart.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// EnsureDefault creates the prompt file with the default prompts when missing.
// An existing file is left untouched.
func (s *Store) EnsureDefault() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat prompts file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}
	b, err := json.MarshalIndent(Defaults(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write prompts file: %w", err)
	}
	log.Info().Str("path", s.path).Msg("created default prompts file")
	return nil
}

// Load parses the whole prompt file.
func (s *Store) Load() (File, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", s.path, err)
	}
	return f, nil
}

// Prompt returns the prompt text for section/taskType.
func (s *Store) Prompt(section, taskType string) (string, error) {
	f, err := s.Load()
	if err != nil {
		return "", err
	}
	p, ok := f[section][taskType]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrPromptNotFound, section, taskType)
	}
	return p, nil
}
