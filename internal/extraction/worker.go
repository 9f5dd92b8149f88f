package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/questionextractor/internal/ai"
	"github.com/local/questionextractor/internal/imagerender"
	"github.com/local/questionextractor/internal/logger"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/prompts"
	"github.com/local/questionextractor/internal/question"
)

// UserText accompanies every page image sent to the model.
const UserText = "Here is the image containing questions."

// PromptSource resolves a prompt by section and task type.
type PromptSource interface {
	Prompt(section, taskType string) (string, error)
}

// Rasterizer opens a PDF for page-by-page rendering.
type Rasterizer interface {
	Open(ctx context.Context, pdfPath string) (imagerender.Document, error)
}

// ClientFactory builds a model client bound to one credential.
type ClientFactory func(apiKey string) (ai.Client, error)

// ResultStore persists the final artifact.
type ResultStore interface {
	Save(ctx context.Context, id string, data []byte) error
}

// StatusMirror receives a snapshot after every step. Mirror errors are logged
// and never affect the task.
type StatusMirror interface {
	Publish(ctx context.Context, s Snapshot) error
}

// WorkerDeps are the collaborators of a Worker. Mirror may be nil.
type WorkerDeps struct {
	Prompts   PromptSource
	Raster    Rasterizer
	NewClient ClientFactory
	Results   ResultStore
	Mirror    StatusMirror
	TaskType  string
}

// Job is one extraction to run against an already registered task.
type Job struct {
	Task     *Task
	FilePath string
	APIKey   string
	// Cleanup removes FilePath once the task is terminal.
	Cleanup bool
}

type Worker struct {
	deps WorkerDeps
	now  func() time.Time
}

func NewWorker(deps WorkerDeps) *Worker {
	if deps.TaskType == "" {
		deps.TaskType = prompts.DefaultTaskType
	}
	return &Worker{deps: deps, now: time.Now}
}

// Handle observes a launched extraction.
type Handle struct {
	done chan struct{}
}

// Done is closed once the task is terminal and cleanup has run.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the extraction finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch runs the job on its own goroutine. The run is detached from ctx's
// cancellation so it outlives the request that started it.
func (w *Worker) Launch(ctx context.Context, job Job) *Handle {
	h := &Handle{done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(h.done)
		w.Run(runCtx, job)
	}()
	return h
}

// Run drives the task to a terminal state. It never returns an error: the
// outcome is recorded on the task.
func (w *Worker) Run(ctx context.Context, job Job) {
	t := job.Task
	lg := logger.ForExtraction(t.ID())
	start := w.now()
	metrics.ExtractionStarted()

	defer func() {
		if job.Cleanup {
			if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
				lg.Warn().Err(err).Str("file", job.FilePath).Msg("failed to remove upload")
			}
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			lg.Error().Err(err).Msg("extraction worker panicked")
			w.finishFailed(ctx, t, err, start, lg)
		}
	}()

	lg.Info().Str("file", job.FilePath).Msg("extraction started")

	if err := w.extract(ctx, t, job, lg); err != nil {
		w.finishFailed(ctx, t, err, start, lg)
		return
	}
	if t.complete(w.now()) {
		metrics.ExtractionFinished(string(StatusCompleted), w.now().Sub(start))
		lg.Info().Dur("duration", w.now().Sub(start)).Msg("extraction completed")
	}
	w.publish(ctx, t, lg)
}

func (w *Worker) finishFailed(ctx context.Context, t *Task, err error, start time.Time, lg zerolog.Logger) {
	if t.fail(err, w.now()) {
		metrics.ExtractionFinished(string(StatusFailed), w.now().Sub(start))
		lg.Error().Err(err).Msg("extraction failed")
	}
	w.publish(ctx, t, lg)
}

func (w *Worker) extract(ctx context.Context, t *Task, job Job, lg zerolog.Logger) error {
	t.setMessage(MsgLoadPrompts)
	w.publish(ctx, t, lg)
	systemPrompt, err := w.deps.Prompts.Prompt(prompts.SectionExtractQuestions, w.deps.TaskType)
	if err != nil {
		return err
	}

	t.setMessage(MsgInitLLM)
	w.publish(ctx, t, lg)
	client, err := w.deps.NewClient(job.APIKey)
	if err != nil {
		return err
	}

	t.setMessage(MsgLoadPDF)
	w.publish(ctx, t, lg)
	doc, err := w.deps.Raster.Open(ctx, job.FilePath)
	if err != nil {
		return err
	}
	defer doc.Close()

	total := doc.NumPages()
	lg.Info().Int("pages", total).Msg("document opened")

	for i := 0; i < total; i++ {
		t.advance(float64(i)/float64(total), fmt.Sprintf("Processing page %d of %d", i+1, total))
		w.publish(ctx, t, lg)

		qs, err := w.processPage(ctx, t.ID(), client, doc, i, systemPrompt)
		if err != nil {
			metrics.IncPage("failed")
			return fmt.Errorf("page %d of %d: %w", i+1, total, err)
		}
		metrics.IncPage("success")
		metrics.AddQuestions(len(qs))
		t.appendQuestions(qs)
		lg.Debug().Int("page", i+1).Int("questions", len(qs)).Msg("page processed")
	}

	data, err := encodeArtifact(t.frozenQuestions())
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := w.deps.Results.Save(ctx, t.ID(), data); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func (w *Worker) processPage(ctx context.Context, id string, client ai.Client, doc imagerender.Document, i int, systemPrompt string) ([]question.Question, error) {
	img, err := doc.RenderJPEG(i)
	if err != nil {
		return nil, err
	}
	page, _, err := client.ExtractQuestions(ctx, ai.Request{
		ExtractionID: id,
		PageIndex:    i,
		SystemPrompt: systemPrompt,
		UserText:     UserText,
		ImageBase64:  imagerender.EncodeToBase64(img),
		ImageMIME:    imagerender.MIMEJPEG,
	})
	if err != nil {
		return nil, err
	}
	return question.FromPage(page), nil
}

func (w *Worker) publish(ctx context.Context, t *Task, lg zerolog.Logger) {
	if w.deps.Mirror == nil {
		return
	}
	if err := w.deps.Mirror.Publish(ctx, t.Snapshot()); err != nil {
		lg.Warn().Err(err).Msg("status mirror update failed")
	}
}

// encodeArtifact renders questions as a JSON array indented with four spaces.
func encodeArtifact(qs []question.Question) ([]byte, error) {
	if qs == nil {
		qs = []question.Question{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(qs); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
