package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/questionextractor/internal/ai"
	"github.com/local/questionextractor/internal/imagerender"
	"github.com/local/questionextractor/internal/question"
)

type fakePrompts struct{ err error }

func (f fakePrompts) Prompt(section, taskType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "system prompt", nil
}

type fakeDoc struct {
	mu     sync.Mutex
	pages  int
	failAt int
	closed bool
}

func (d *fakeDoc) NumPages() int { return d.pages }
func (d *fakeDoc) RenderJPEG(i int) ([]byte, error) {
	if i == d.failAt {
		return nil, errors.New("render exploded")
	}
	return []byte(fmt.Sprintf("page-%d", i)), nil
}
func (d *fakeDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fakeRaster struct {
	doc *fakeDoc
	err error
}

func (r fakeRaster) Open(ctx context.Context, path string) (imagerender.Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.doc, nil
}

// fakeClient returns two questions per page, ids "p{page}q{n}". gate, when
// set, blocks each call until a value is received.
type fakeClient struct {
	failPage int
	gate     chan struct{}
	mu       sync.Mutex
	reqs     []ai.Request
}

func (c *fakeClient) Name() string { return "fake" }
func (c *fakeClient) ExtractQuestions(ctx context.Context, req ai.Request) (question.Page, ai.Usage, error) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	if req.PageIndex == c.failPage {
		return question.Page{}, ai.Usage{}, ai.ErrRateLimited
	}
	var p question.Page
	for n := 1; n <= 2; n++ {
		p.Questions = append(p.Questions, question.RawQuestion{
			ID: fmt.Sprintf("p%dq%d", req.PageIndex+1, n), A: "a", B: "b", C: "c", D: "d",
		})
	}
	return p, ai.Usage{TokensIn: 1, TokensOut: 1}, nil
}

type panickingClient struct{}

func (panickingClient) Name() string { return "panicking" }
func (panickingClient) ExtractQuestions(context.Context, ai.Request) (question.Page, ai.Usage, error) {
	panic("decoder exploded")
}

type memResults struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (m *memResults) Save(ctx context.Context, id string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[id] = data
	return nil
}

func (m *memResults) get(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[id]
	return b, ok
}

type recordingMirror struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingMirror) Publish(ctx context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func uploadFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
	return p
}

func newTestWorker(client *fakeClient, doc *fakeDoc, results *memResults, mirror StatusMirror) *Worker {
	return NewWorker(WorkerDeps{
		Prompts:   fakePrompts{},
		Raster:    fakeRaster{doc: doc},
		NewClient: func(string) (ai.Client, error) { return client, nil },
		Results:   results,
		Mirror:    mirror,
	})
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("doc_1", "doc")
	require.NoError(t, err)

	_, err = r.Create("doc_1", "doc")
	assert.ErrorIs(t, err, ErrDuplicateID)

	s, ok := r.Get("doc_1")
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, MsgStarted, s.Message)
	assert.Equal(t, 0.0, s.Progress)
	assert.NotNil(t, s.Questions)
	assert.Empty(t, s.Questions)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryEvictOnlyOldTerminal(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	done, _ := r.Create("done", "d")
	failed, _ := r.Create("failed", "f")
	_, _ = r.Create("running", "r")
	fresh, _ := r.Create("fresh", "x")

	done.complete(base)
	failed.fail(errors.New("x"), base)
	fresh.complete(base.Add(time.Hour))

	n := r.Evict(base.Add(time.Minute))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("running")
	assert.True(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestTaskTransitionsAreOneWay(t *testing.T) {
	task := newTask("id", "f", time.Now())
	assert.True(t, task.complete(time.Now()))
	assert.False(t, task.fail(errors.New("late"), time.Now()))
	task.advance(0.5, "ignored")

	s := task.Snapshot()
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, MsgCompleted, s.Message)
	assert.Equal(t, 1.0, s.Progress)
	assert.Empty(t, s.Error)
}

func TestTaskProgressNeverDecreases(t *testing.T) {
	task := newTask("id", "f", time.Now())
	task.advance(0.5, "a")
	task.advance(0.25, "b")
	task.advance(1.0, "c")
	s := task.Snapshot()
	assert.Equal(t, 0.5, s.Progress)
	assert.Equal(t, "c", s.Message)
}

func TestSnapshotIsIsolated(t *testing.T) {
	task := newTask("id", "f", time.Now())
	task.appendQuestions(question.FromPage(question.Page{Questions: []question.RawQuestion{{ID: "1", A: "a"}}}))
	s := task.Snapshot()
	s.Questions[0].Choices[0] = "mutated"
	s.Questions = append(s.Questions, question.Question{ID: "2"})

	again := task.Snapshot()
	require.Len(t, again.Questions, 1)
	assert.Equal(t, "a", again.Questions[0].Choices[0])
}

func TestWorkerCompletes(t *testing.T) {
	reg := NewRegistry()
	task, err := reg.Create("doc_1", "doc")
	require.NoError(t, err)

	client := &fakeClient{failPage: -1}
	doc := &fakeDoc{pages: 3, failAt: -1}
	results := &memResults{}
	mirror := &recordingMirror{}
	path := uploadFile(t)

	w := newTestWorker(client, doc, results, mirror)
	h := w.Launch(context.Background(), Job{Task: task, FilePath: path, APIKey: "k", Cleanup: true})
	require.NoError(t, h.Wait(context.Background()))

	s, _ := reg.Get("doc_1")
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, MsgCompleted, s.Message)
	assert.Equal(t, 1.0, s.Progress)
	require.Len(t, s.Questions, 6)
	assert.Equal(t, "p1q1", s.Questions[0].ID)
	assert.Equal(t, "p3q2", s.Questions[5].ID)
	assert.True(t, doc.closed)

	require.Len(t, client.reqs, 3)
	assert.Equal(t, UserText, client.reqs[0].UserText)
	assert.Equal(t, "system prompt", client.reqs[0].SystemPrompt)
	assert.Equal(t, imagerender.EncodeToBase64([]byte("page-0")), client.reqs[0].ImageBase64)
	assert.Equal(t, "image/jpeg", client.reqs[0].ImageMIME)

	data, ok := results.get("doc_1")
	require.True(t, ok)
	var stored []question.Question
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored, 6)
	assert.Contains(t, string(data), "\n    {")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	var msgs []string
	prev := 0.0
	for _, snap := range mirror.snaps {
		assert.GreaterOrEqual(t, snap.Progress, prev)
		prev = snap.Progress
		msgs = append(msgs, snap.Message)
	}
	assert.Equal(t, []string{
		MsgLoadPrompts, MsgInitLLM, MsgLoadPDF,
		"Processing page 1 of 3", "Processing page 2 of 3", "Processing page 3 of 3",
		MsgCompleted,
	}, msgs)
}

func TestWorkerPageFailureAbortsRun(t *testing.T) {
	reg := NewRegistry()
	task, _ := reg.Create("doc_2", "doc")
	client := &fakeClient{failPage: 1}
	results := &memResults{}
	path := uploadFile(t)

	w := newTestWorker(client, &fakeDoc{pages: 3, failAt: -1}, results, nil)
	w.Run(context.Background(), Job{Task: task, FilePath: path, Cleanup: true})

	s, _ := reg.Get("doc_2")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Contains(t, s.Message, "Extraction failed: ")
	assert.Contains(t, s.Message, "page 2 of 3")
	assert.Contains(t, s.Error, "page 2 of 3")
	assert.Less(t, s.Progress, 1.0)
	assert.Len(t, client.reqs, 2, "page 3 must not be attempted")

	_, ok := results.get("doc_2")
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	reg := NewRegistry()
	task, _ := reg.Create("doc_p", "doc")
	results := &memResults{}
	mirror := &recordingMirror{}
	path := uploadFile(t)

	w := NewWorker(WorkerDeps{
		Prompts:   fakePrompts{},
		Raster:    fakeRaster{doc: &fakeDoc{pages: 2, failAt: -1}},
		NewClient: func(string) (ai.Client, error) { return panickingClient{}, nil },
		Results:   results,
		Mirror:    mirror,
	})
	h := w.Launch(context.Background(), Job{Task: task, FilePath: path, Cleanup: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	s, _ := reg.Get("doc_p")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Contains(t, s.Message, "Extraction failed: panic: decoder exploded")
	assert.Empty(t, s.Questions)

	_, ok := results.get("doc_p")
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "upload must be removed after a panic")

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.NotEmpty(t, mirror.snaps)
	assert.Equal(t, StatusFailed, mirror.snaps[len(mirror.snaps)-1].Status)
}

func TestWorkerFailures(t *testing.T) {
	tests := []struct {
		name    string
		deps    func(d *WorkerDeps)
		wantMsg string
	}{
		{"prompt", func(d *WorkerDeps) { d.Prompts = fakePrompts{err: errors.New("no prompts")} }, "Extraction failed: no prompts"},
		{"client", func(d *WorkerDeps) {
			d.NewClient = func(string) (ai.Client, error) { return nil, ai.ErrMissingAPIKey }
		}, "Extraction failed: " + ai.ErrMissingAPIKey.Error()},
		{"open", func(d *WorkerDeps) { d.Raster = fakeRaster{err: errors.New("bad pdf")} }, "Extraction failed: bad pdf"},
		{"render", func(d *WorkerDeps) { d.Raster = fakeRaster{doc: &fakeDoc{pages: 2, failAt: 0}} }, "Extraction failed: page 1 of 2: render exploded"},
		{"save", func(d *WorkerDeps) { d.Results = &memResults{err: errors.New("disk full")} }, "Extraction failed: save results: disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := WorkerDeps{
				Prompts:   fakePrompts{},
				Raster:    fakeRaster{doc: &fakeDoc{pages: 1, failAt: -1}},
				NewClient: func(string) (ai.Client, error) { return &fakeClient{failPage: -1}, nil },
				Results:   &memResults{},
			}
			tt.deps(&deps)
			task := newTask("id", "f", time.Now())
			path := uploadFile(t)
			NewWorker(deps).Run(context.Background(), Job{Task: task, FilePath: path, Cleanup: true})

			s := task.Snapshot()
			assert.Equal(t, StatusFailed, s.Status)
			assert.Equal(t, tt.wantMsg, s.Message)
			_, err := os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestWorkerZeroPages(t *testing.T) {
	task := newTask("empty", "f", time.Now())
	results := &memResults{}
	w := newTestWorker(&fakeClient{failPage: -1}, &fakeDoc{pages: 0, failAt: -1}, results, nil)
	w.Run(context.Background(), Job{Task: task, FilePath: "unused"})

	assert.Equal(t, StatusCompleted, task.Snapshot().Status)
	data, ok := results.get("empty")
	require.True(t, ok)
	assert.Equal(t, "[]", string(data))
}

func TestWorkerKeepsFileWithoutCleanup(t *testing.T) {
	task := newTask("keep", "f", time.Now())
	path := uploadFile(t)
	w := newTestWorker(&fakeClient{failPage: -1}, &fakeDoc{pages: 1, failAt: -1}, &memResults{}, nil)
	w.Run(context.Background(), Job{Task: task, FilePath: path})
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestProgressObservedWhileRunning(t *testing.T) {
	reg := NewRegistry()
	task, _ := reg.Create("slow", "doc")
	gate := make(chan struct{})
	client := &fakeClient{failPage: -1, gate: gate}
	w := newTestWorker(client, &fakeDoc{pages: 4, failAt: -1}, &memResults{}, nil)

	h := w.Launch(context.Background(), Job{Task: task, FilePath: "unused"})

	prev := 0.0
	for i := 0; i < 4; i++ {
		require.Eventually(t, func() bool {
			s, _ := reg.Get("slow")
			return s.Message == fmt.Sprintf("Processing page %d of 4", i+1)
		}, time.Second, time.Millisecond)
		s, _ := reg.Get("slow")
		assert.Equal(t, StatusInProgress, s.Status)
		assert.InDelta(t, float64(i)/4, s.Progress, 1e-9)
		assert.GreaterOrEqual(t, s.Progress, prev)
		assert.Len(t, s.Questions, 2*i)
		prev = s.Progress
		gate <- struct{}{}
	}
	require.NoError(t, h.Wait(context.Background()))
	s, _ := reg.Get("slow")
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestConcurrentExtractionsAreIndependent(t *testing.T) {
	reg := NewRegistry()
	results := &memResults{}
	var handles []*Handle
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("doc_%d", i)
		task, err := reg.Create(id, "doc")
		require.NoError(t, err)
		failPage := -1
		if i%2 == 1 {
			failPage = 0
		}
		w := newTestWorker(&fakeClient{failPage: failPage}, &fakeDoc{pages: 2, failAt: -1}, results, nil)
		handles = append(handles, w.Launch(context.Background(), Job{Task: task, FilePath: "unused"}))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for j := 0; j < 8; j++ {
				s, ok := reg.Get(fmt.Sprintf("doc_%d", j))
				assert.True(t, ok)
				assert.LessOrEqual(t, s.Progress, 1.0)
			}
		}
	}()
	for _, h := range handles {
		require.NoError(t, h.Wait(context.Background()))
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		s, _ := reg.Get(fmt.Sprintf("doc_%d", i))
		if i%2 == 1 {
			assert.Equal(t, StatusFailed, s.Status)
		} else {
			assert.Equal(t, StatusCompleted, s.Status)
			assert.Len(t, s.Questions, 4)
		}
	}
}

func TestLaunchIsDetachedFromCallerContext(t *testing.T) {
	task := newTask("detached", "f", time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	gate := make(chan struct{})
	w := newTestWorker(&fakeClient{failPage: -1, gate: gate}, &fakeDoc{pages: 1, failAt: -1}, &memResults{}, nil)
	h := w.Launch(ctx, Job{Task: task, FilePath: "unused"})
	cancel()
	close(gate)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, StatusCompleted, task.Snapshot().Status)
}
