// Package extraction owns the lifecycle of a single PDF extraction: the task
// record polled by status readers, the registry of live tasks, and the worker
// that drives a task to a terminal state.
package extraction

import (
	"sync"
	"time"

	"github.com/local/questionextractor/internal/question"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

const (
	MsgStarted      = "Extraction started"
	MsgLoadPrompts  = "Loading prompts"
	MsgInitLLM      = "Initializing LLM"
	MsgLoadPDF      = "Loading PDF"
	MsgCompleted    = "Extraction completed successfully"
	msgFailedPrefix = "Extraction failed: "
)

// Task is the live state of one extraction. Only the worker launched for it
// mutates a Task; any number of readers may call Snapshot concurrently.
type Task struct {
	mu         sync.RWMutex
	id         string
	fileName   string
	status     Status
	message    string
	progress   float64
	questions  []question.Question
	err        string
	createdAt  time.Time
	finishedAt time.Time
}

func newTask(id, fileName string, now time.Time) *Task {
	return &Task{
		id:        id,
		fileName:  fileName,
		status:    StatusInProgress,
		message:   MsgStarted,
		questions: []question.Question{},
		createdAt: now,
	}
}

func (t *Task) ID() string       { return t.id }
func (t *Task) FileName() string { return t.fileName }

// Snapshot is a consistent copy of a task at one instant.
type Snapshot struct {
	ID         string
	FileName   string
	Status     Status
	Message    string
	Progress   float64
	Questions  []question.Question
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Snapshot returns a deep copy; the caller may keep or modify it freely.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	qs := make([]question.Question, len(t.questions))
	for i, q := range t.questions {
		qs[i] = q.Clone()
	}
	return Snapshot{
		ID:         t.id,
		FileName:   t.fileName,
		Status:     t.status,
		Message:    t.message,
		Progress:   t.progress,
		Questions:  qs,
		Error:      t.err,
		CreatedAt:  t.createdAt,
		FinishedAt: t.finishedAt,
	}
}

func (t *Task) setMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.message = msg
}

// advance sets the step message and raises progress; progress never decreases
// and stays below 1 until completion.
func (t *Task) advance(progress float64, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	if progress > t.progress && progress < 1 {
		t.progress = progress
	}
	t.message = msg
}

func (t *Task) appendQuestions(qs []question.Question) {
	if len(qs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.questions = append(t.questions, qs...)
}

// frozenQuestions returns the accumulated questions for serialization.
func (t *Task) frozenQuestions() []question.Question {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]question.Question{}, t.questions...)
}

func (t *Task) complete(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInProgress {
		return false
	}
	t.status = StatusCompleted
	t.progress = 1
	t.message = MsgCompleted
	t.finishedAt = now
	return true
}

func (t *Task) fail(err error, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInProgress {
		return false
	}
	t.status = StatusFailed
	t.err = err.Error()
	t.message = msgFailedPrefix + t.err
	t.finishedAt = now
	return true
}

func (t *Task) terminalBefore(cutoff time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Terminal() && t.finishedAt.Before(cutoff)
}
