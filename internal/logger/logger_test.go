package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngest struct {
	mu     sync.Mutex
	events []axiom.Event
}

func (r *recordingIngest) ingest(ctx context.Context, evs []axiom.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

func TestInitWritesRotatedFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	file := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init(Options{Level: "warn", File: file, MaxSizeMB: 1}))
	defer Close()

	lg := ForExtraction("doc_1")
	lg.Info().Msg("below level")
	lg.Warn().Msg("page retried")

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	out := string(b)
	assert.NotContains(t, out, "below level")
	assert.Contains(t, out, `"message":"page retried"`)
	assert.Contains(t, out, `"extraction_id":"doc_1"`)
	assert.Contains(t, out, `"service":"questionextractor"`)
}

func TestInitDefaultsToInfo(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	require.NoError(t, Init(Options{Level: "nonsense"}))
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}

func TestAxiomSinkBatchesAndDropsDebug(t *testing.T) {
	rec := &recordingIngest{}
	s := startSink(rec.ingest, time.Hour)

	lg := zerolog.New(s).With().Str("service", service).Logger()
	lg.Debug().Msg("noise")
	lg.Info().Str("extraction_id", "doc_1").Msg("extraction started")
	_, err := s.Write([]byte("not json"))
	require.NoError(t, err)
	s.Close()
	s.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, "extraction started", rec.events[0]["message"])
	assert.Equal(t, service, rec.events[0]["service"])
	assert.Contains(t, rec.events[0], ingest.TimestampField)
	assert.True(t, strings.HasPrefix(rec.events[1]["message"].(string), "not json"))
}
