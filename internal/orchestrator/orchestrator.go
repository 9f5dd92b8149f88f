package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/extraction"
	"github.com/local/questionextractor/internal/filetype"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/question"
	"github.com/local/questionextractor/internal/store"
)

var (
	ErrNotFound          = errors.New("extraction not found")
	ErrUnsupportedType   = errors.New("only PDF files are supported")
	ErrTooLarge          = errors.New("file too large")
	ErrMissingCredential = errors.New("no OpenAI API key configured")
)

const msgStoredCompleted = "Extraction completed"

// StatusReader is the read side of the optional status mirror.
type StatusReader interface {
	Get(ctx context.Context, id string) (store.Status, bool, error)
}

// Dependencies wires the façade. Mirror may be nil.
type Dependencies struct {
	Registry      *extraction.Registry
	Worker        *extraction.Worker
	Results       store.Results
	Mirror        StatusReader
	Detector      *filetype.Detector
	UploadDir     string
	MaxUploadSize int64
	EnvAPIKey     string
}

// Orchestrator accepts uploads, hands them to workers and answers status and
// download queries.
type Orchestrator struct {
	deps     Dependencies
	inflight sync.WaitGroup
}

func New(deps Dependencies) *Orchestrator {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	return &Orchestrator{deps: deps}
}

// Upload is one submitted file plus the caller's credential choice.
type Upload struct {
	FileName    string
	ContentType string
	// Size is the declared size, or -1 when unknown.
	Size         int64
	Body         io.Reader
	UseOpenAIKey bool
	OpenAIKey    string
}

type SubmitResult struct {
	Questions    []question.Question `json:"questions"`
	FileName     string              `json:"file_name"`
	ExtractionID string              `json:"extraction_id"`
}

// StatusView is the polled state of an extraction. Questions is nil unless
// the extraction completed.
type StatusView struct {
	Status       string              `json:"status"`
	Message      string              `json:"message"`
	Progress     float64             `json:"progress"`
	Questions    []question.Question `json:"questions"`
	ExtractionID string              `json:"extraction_id"`
}

// Submit validates and stores the upload, registers a task and launches its
// worker without waiting for it.
func (o *Orchestrator) Submit(ctx context.Context, u Upload) (SubmitResult, error) {
	if !filetype.DeclaredPDF(u.ContentType) {
		metrics.IncRejected("content_type")
		return SubmitResult{}, ErrUnsupportedType
	}
	if u.Size > o.deps.MaxUploadSize {
		metrics.IncRejected("too_large")
		return SubmitResult{}, ErrTooLarge
	}
	info, body, err := o.deps.Detector.Detect(u.Body)
	if err != nil {
		return SubmitResult{}, err
	}
	if !info.Supported {
		metrics.IncRejected("sniffed_type")
		log.Info().Str("declared", u.ContentType).Str("detected", info.MIMEType).Msg("upload rejected by content sniffing")
		return SubmitResult{}, ErrUnsupportedType
	}

	apiKey, err := o.resolveKey(u)
	if err != nil {
		return SubmitResult{}, err
	}

	fileID := uuid.NewString()
	path, err := o.saveUpload(body, fileID, filepath.Ext(u.FileName))
	if err != nil {
		return SubmitResult{}, err
	}

	base := strings.TrimSuffix(filepath.Base(u.FileName), filepath.Ext(u.FileName))
	id := ExtractionID(base, fileID)
	task, err := o.deps.Registry.Create(id, base)
	if err != nil {
		_ = os.Remove(path)
		return SubmitResult{}, err
	}

	o.inflight.Add(1)
	h := o.deps.Worker.Launch(ctx, extraction.Job{Task: task, FilePath: path, APIKey: apiKey, Cleanup: true})
	go func() {
		<-h.Done()
		o.inflight.Done()
	}()

	log.Info().Str("extraction_id", id).Str("file_name", u.FileName).Msg("extraction submitted")
	return SubmitResult{Questions: []question.Question{}, FileName: u.FileName, ExtractionID: id}, nil
}

// ExtractionID joins the alphanumeric characters of base with the random part.
func ExtractionID(base, random string) string {
	var b strings.Builder
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String() + "_" + random
}

func (o *Orchestrator) resolveKey(u Upload) (string, error) {
	if u.UseOpenAIKey && u.OpenAIKey != "" {
		return u.OpenAIKey, nil
	}
	if o.deps.EnvAPIKey != "" {
		return o.deps.EnvAPIKey, nil
	}
	return "", ErrMissingCredential
}

func (o *Orchestrator) saveUpload(r io.Reader, fileID, ext string) (string, error) {
	if err := os.MkdirAll(o.deps.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(o.deps.UploadDir, fileID+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, o.deps.MaxUploadSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if n > o.deps.MaxUploadSize {
		_ = os.Remove(path)
		metrics.IncRejected("too_large")
		return "", ErrTooLarge
	}
	return path, nil
}

// GetStatus consults the registry, then the result store, then the mirror.
// Only failed mirror entries are served: an in-progress entry may belong to a
// worker that died with a previous process, and a completed one is only
// trusted once its artifact is in the result store.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (StatusView, error) {
	if s, ok := o.deps.Registry.Get(id); ok {
		return viewFromSnapshot(s), nil
	}

	data, err := o.deps.Results.Load(ctx, id)
	switch {
	case err == nil:
		var qs []question.Question
		if err := json.Unmarshal(data, &qs); err != nil {
			return StatusView{}, fmt.Errorf("decode stored results: %w", err)
		}
		if qs == nil {
			qs = []question.Question{}
		}
		return StatusView{
			Status:       string(extraction.StatusCompleted),
			Message:      msgStoredCompleted,
			Progress:     1,
			Questions:    qs,
			ExtractionID: id,
		}, nil
	case !errors.Is(err, store.ErrResultNotFound):
		return StatusView{}, err
	}

	if o.deps.Mirror != nil {
		st, ok, err := o.deps.Mirror.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("extraction_id", id).Msg("status mirror lookup failed")
		} else if ok && st.Status == string(extraction.StatusFailed) {
			return viewFromMirror(st), nil
		}
	}
	return StatusView{}, ErrNotFound
}

// Download returns the stored artifact bytes unchanged.
func (o *Orchestrator) Download(ctx context.Context, id string) ([]byte, error) {
	data, err := o.deps.Results.Load(ctx, id)
	if errors.Is(err, store.ErrResultNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

// Wait blocks until every launched worker has finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func viewFromSnapshot(s extraction.Snapshot) StatusView {
	v := StatusView{
		Status:       string(s.Status),
		Message:      s.Message,
		Progress:     s.Progress,
		ExtractionID: s.ID,
	}
	if s.Status == extraction.StatusCompleted {
		v.Questions = s.Questions
	}
	return v
}
