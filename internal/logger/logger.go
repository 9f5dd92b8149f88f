package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const service = "questionextractor"

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Axiom
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration
}

var sink *axiomSink

// Init replaces the zerolog package logger with one writing to stdout, an
// optional rotated file and optional Axiom forwarding.
func Init(opts Options) error {
	var writers []io.Writer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}
	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		s, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			sink = s
			writers = append(writers, s)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", service).Logger()
	return nil
}

// Close flushes buffered Axiom events.
func Close() {
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

// ForExtraction returns a child of the package logger tagged with the extraction id.
func ForExtraction(id string) zerolog.Logger {
	return log.Logger.With().Str("extraction_id", id).Logger()
}

const axiomBatch = 200

type ingestFunc func(ctx context.Context, events []axiom.Event) error

// axiomSink is an io.Writer that turns zerolog JSON lines into Axiom events
// and ships them in batches. Debug lines are not forwarded. When the buffer
// is full new events are dropped rather than blocking the caller.
type axiomSink struct {
	ingest ingestFunc
	events chan axiom.Event
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newAxiomSink(token, orgID, dataset string, flushEvery time.Duration) (*axiomSink, error) {
	if dataset == "" {
		dataset = "dev_" + service
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return startSink(func(ctx context.Context, evs []axiom.Event) error {
		_, err := c.IngestEvents(ctx, dataset, evs)
		return err
	}, flushEvery), nil
}

func startSink(fn ingestFunc, flushEvery time.Duration) *axiomSink {
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	s := &axiomSink{
		ingest: fn,
		events: make(chan axiom.Event, 1000),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(flushEvery)
	return s
}

func (s *axiomSink) Write(p []byte) (int, error) {
	var ev axiom.Event
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{"message": string(p), "level": "info"}
	}
	if ev["level"] == zerolog.LevelDebugValue {
		return len(p), nil
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case s.events <- ev:
	default:
	}
	return len(p), nil
}

func (s *axiomSink) run(flushEvery time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, axiomBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.ingest(ctx, batch); err != nil {
			fmt.Fprintf(os.Stderr, "axiom ingest: %v\n", err)
		}
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case ev := <-s.events:
			if batch = append(batch, ev); len(batch) >= axiomBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close drains queued events, flushes them and stops the sink.
func (s *axiomSink) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
