package orchestrator

import (
	"context"
	"time"

	"github.com/local/questionextractor/internal/extraction"
	"github.com/local/questionextractor/internal/store"
)

// StatusWriter is the write side of the status mirror.
type StatusWriter interface {
	Set(ctx context.Context, st store.Status) error
}

type statusMirrorAdapter struct{ w StatusWriter }

// NewStatusMirror adapts a status store to the worker's mirror hook.
func NewStatusMirror(w StatusWriter) extraction.StatusMirror { return &statusMirrorAdapter{w: w} }

func (a *statusMirrorAdapter) Publish(ctx context.Context, s extraction.Snapshot) error {
	return a.w.Set(ctx, store.Status{
		ExtractionID: s.ID,
		FileName:     s.FileName,
		Status:       string(s.Status),
		Message:      s.Message,
		Progress:     s.Progress,
		Error:        s.Error,
		UpdatedAt:    time.Now(),
	})
}

// viewFromMirror renders a failed mirror entry. It never carries questions.
func viewFromMirror(st store.Status) StatusView {
	return StatusView{
		Status:       st.Status,
		Message:      st.Message,
		Progress:     st.Progress,
		ExtractionID: st.ExtractionID,
	}
}
