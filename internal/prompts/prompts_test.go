package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefaultCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts", "prompts.json")
	s := NewStore(path)
	require.NoError(t, s.EnsureDefault())

	p, err := s.Prompt(SectionExtractQuestions, DefaultTaskType)
	require.NoError(t, err)
	assert.Contains(t, p, "extracting questions from educational materials")
}

func TestEnsureDefaultKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"extract_questions":{"cuet-ug":"custom"}}`), 0o644))
	s := NewStore(path)
	require.NoError(t, s.EnsureDefault())

	p, err := s.Prompt(SectionExtractQuestions, DefaultTaskType)
	require.NoError(t, err)
	assert.Equal(t, "custom", p)
}

func TestPromptErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing entry", func(t *testing.T) {
		path := filepath.Join(dir, "a.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"extract_questions":{}}`), 0o644))
		_, err := NewStore(path).Prompt(SectionExtractQuestions, "neet")
		assert.ErrorIs(t, err, ErrPromptNotFound)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := NewStore(filepath.Join(dir, "nope.json")).Prompt(SectionExtractQuestions, DefaultTaskType)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPromptNotFound)
	})
	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
		_, err := NewStore(path).Prompt(SectionExtractQuestions, DefaultTaskType)
		assert.Error(t, err)
	})
}

func TestPromptReloadsOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	s := NewStore(path)
	require.NoError(t, s.EnsureDefault())
	require.NoError(t, os.WriteFile(path, []byte(`{"extract_questions":{"cuet-ug":"v2"}}`), 0o644))

	p, err := s.Prompt(SectionExtractQuestions, DefaultTaskType)
	require.NoError(t, err)
	assert.Equal(t, "v2", p)
}
