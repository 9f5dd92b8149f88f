package statuscheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type probe struct{ err error }

func (p probe) Check() error { return p.err }

func ok(context.Context) error { return nil }

func TestSummaryReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{
		Results:       pingFunc(ok),
		ResultsName:   "local",
		Renderer:      probe{},
		OpenAIKey:     "sk",
		OpenAIBaseURL: srv.URL,
	})
	sum := c.Summary(context.Background())
	assert.True(t, sum.Ready())
	assert.Equal(t, "Disabled", sum.Redis.Message)
	assert.True(t, sum.OpenAI.OK)
	assert.Equal(t, "local writable", sum.Results.Message)
}

func TestSummaryNotReady(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"results down", Options{Results: pingFunc(func(context.Context) error { return errors.New("read-only fs") }), Renderer: probe{}}},
		{"redis down", Options{Results: pingFunc(ok), Redis: pingFunc(func(context.Context) error { return errors.New("refused") }), Renderer: probe{}}},
		{"renderer broken", Options{Results: pingFunc(ok), Renderer: probe{err: errors.New("no mupdf")}}},
		{"nothing wired", Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, New(tt.opts).Summary(context.Background()).Ready())
		})
	}
}

func TestOpenAIKeyMissingDoesNotBlockReadiness(t *testing.T) {
	sum := New(Options{Results: pingFunc(ok), Renderer: probe{}}).Summary(context.Background())
	assert.False(t, sum.OpenAI.OK)
	assert.Equal(t, "API key missing", sum.OpenAI.Message)
	assert.True(t, sum.Ready())
}

func TestTrimError(t *testing.T) {
	assert.Len(t, trimError(errors.New(strings.Repeat("x", 300))), 120)
	assert.Equal(t, "", trimError(nil))
}
