package orchestrator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/statuscheck"
)

// multipartOverhead is allowed on top of the file size limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// ReadinessChecker reports dependency health for /health/ready.
type ReadinessChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	APIToken    string
	APIPrefix   string
	CORSOrigins []string
	ProjectName string
	Readiness   ReadinessChecker
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Router builds the HTTP handler: public info and health routes at the root,
// authenticated extraction routes under the configured prefix.
func (o *Orchestrator) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(recoverJSON)
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"app_name":      opts.ProjectName,
			"message":       "Welcome to the Question Extractor API",
			"documentation": "/docs",
		})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if opts.Readiness == nil {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		sum := opts.Readiness.Summary(r.Context())
		code := http.StatusOK
		if !sum.Ready() {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, sum)
	})
	r.Handle("/metrics", metrics.Handler())

	api := func(ar chi.Router) {
		ar.Use(bearerAuth(opts.APIToken))
		ar.Post("/extract", o.handleExtract)
		ar.Get("/status/{extractionID}", o.handleStatus)
		ar.Get("/download/{extractionID}", o.handleDownload)
	}
	prefix := strings.Trim(opts.APIPrefix, "/")
	if prefix == "" {
		r.Group(api)
	} else {
		r.Route("/"+prefix, api)
	}
	return r
}

func (o *Orchestrator) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			metrics.IncRejected("too_large")
			respondError(w, http.StatusRequestEntityTooLarge, o.tooLargeDetail())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "Invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	useKey, err := parseFormBool(r.FormValue("use_openai_key"))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "use_openai_key must be a boolean")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Field required: file")
		return
	}
	defer file.Close()

	res, err := o.Submit(r.Context(), Upload{
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
		UseOpenAIKey: useKey,
		OpenAIKey:    r.FormValue("openai_api_key"),
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrUnsupportedType):
		respondError(w, http.StatusBadRequest, "Only PDF files are supported")
	case errors.Is(err, ErrTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, o.tooLargeDetail())
	default:
		log.Error().Err(err).Str("file_name", header.Filename).Msg("failed to start extraction")
		respondError(w, http.StatusInternalServerError, "Failed to start extraction: "+err.Error())
	}
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "extractionID")
	v, err := o.GetStatus(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, v)
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("Extraction with ID %s not found", id))
	default:
		log.Error().Err(err).Str("extraction_id", id).Msg("status lookup failed")
		respondError(w, http.StatusInternalServerError, "Failed to get extraction status: "+err.Error())
	}
}

func (o *Orchestrator) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "extractionID")
	data, err := o.Download(r.Context(), id)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="extraction_%s.json"`, id))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("Results for extraction %s not found", id))
	default:
		log.Error().Err(err).Str("extraction_id", id).Msg("download failed")
		respondError(w, http.StatusInternalServerError, "Failed to download extraction results: "+err.Error())
	}
}

func (o *Orchestrator) tooLargeDetail() string {
	return "File size exceeds the limit of " + formatLimit(o.deps.MaxUploadSize)
}

// formatLimit renders a byte limit in whole MB, rounding up so small limits
// never read as 0MB.
func formatLimit(n int64) string {
	const mb = 1 << 20
	if n <= 0 {
		return "0MB"
	}
	return fmt.Sprintf("%dMB", (n+mb-1)/mb)
}

// bearerAuth compares the bearer token with the configured secret in constant time.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := ""
			if scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
				got = strings.TrimSpace(cred)
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondError(w, http.StatusUnauthorized, "Invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoverJSON turns a handler panic into a JSON 500.
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				respondError(w, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func parseFormBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off", "f", "n":
		return false, nil
	case "1", "true", "yes", "on", "t", "y":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}
