package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RendererProbe verifies the PDF renderer can rasterize a page.
type RendererProbe interface {
	Check() error
}

// Checker aggregates health checks for the service's dependencies.
type Checker struct {
	results       Pinger
	resultsName   string
	redis         Pinger
	renderer      RendererProbe
	httpClient    *http.Client
	openAIKey     string
	openAIBaseURL string
}

// Options configures the Checker. Redis may be nil when the status mirror is
// disabled.
type Options struct {
	Results       Pinger
	ResultsName   string
	Redis         Pinger
	Renderer      RendererProbe
	HTTPClient    *http.Client
	OpenAIKey     string
	OpenAIBaseURL string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Results  Status `json:"results"`
	Redis    Status `json:"redis"`
	Renderer Status `json:"renderer"`
	OpenAI   Status `json:"openai"`
}

// Ready reports whether the service can accept extractions. The environment
// OpenAI key is not required since callers may bring their own.
func (s Summary) Ready() bool {
	return s.Results.OK && s.Redis.OK && s.Renderer.OK
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := strings.TrimRight(opts.OpenAIBaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &Checker{
		results:       opts.Results,
		resultsName:   opts.ResultsName,
		redis:         opts.Redis,
		renderer:      opts.Renderer,
		httpClient:    client,
		openAIKey:     strings.TrimSpace(opts.OpenAIKey),
		openAIBaseURL: base,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Results:  c.checkResults(ctx),
		Redis:    c.checkRedis(ctx),
		Renderer: c.checkRenderer(),
		OpenAI:   c.checkOpenAI(ctx),
	}
}

func (c *Checker) checkResults(ctx context.Context) Status {
	if c.results == nil {
		return Status{OK: false, Message: "store unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.results.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: c.resultsName + " writable"}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRenderer() Status {
	if c.renderer == nil {
		return Status{OK: false, Message: "renderer unavailable"}
	}
	if err := c.renderer.Check(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.openAIKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.openAIBaseURL+"/models?limit=1", nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.openAIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
