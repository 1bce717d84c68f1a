// Package web serves the HTTP surface: the image byte upload endpoint,
// read-only mirrors of the get/search events and the Prometheus scrape
// endpoint. All mutation besides byte upload goes through the WebSocket
// protocol.
package web

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/events"
	"github.com/gazouio/gazou/pkg/session"
	"github.com/gazouio/gazou/pkg/store"
	"github.com/gazouio/gazou/pkg/uid"
)

// Blobs is the slice of blob storage the upload endpoint needs.
type Blobs interface {
	Put(ctx context.Context, key, imgType string, data []byte) error
}

// Options tune the HTTP server.
type Options struct {
	// ImageURL is the public base under which uploaded images are served.
	ImageURL string
	// MaxImageSize caps an upload body in bytes.
	MaxImageSize int64
	// RequestsPerMinute bounds each client IP across all endpoints.
	RequestsPerMinute int
}

// Server is the HTTP handler set.
type Server struct {
	store    *store.Store
	handlers *events.Handlers
	blobs    Blobs
	registry *prometheus.Registry
	opts     Options

	router chi.Router
}

// NewServer wires the routes. registry may be nil to skip the scrape
// endpoint.
func NewServer(st *store.Store, handlers *events.Handlers, blobs Blobs, registry *prometheus.Registry, opts Options) *Server {
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = 20 << 20
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}

	s := &Server{store: st, handlers: handlers, blobs: blobs, registry: registry, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(opts.RequestsPerMinute, time.Minute))

	r.Post("/upload/{uuid}", s.handleUpload)
	r.Get("/get/single/{uuid}", s.mirror("get.single", func(r *http.Request) any {
		return map[string]any{"uuid": chi.URLParam(r, "uuid")}
	}))
	r.Get("/get/batch", s.mirror("get.batch", func(r *http.Request) any {
		return map[string]any{"uuids": r.URL.Query()["uuid"]}
	}))
	r.Get("/get/random", s.mirror("get.random", func(r *http.Request) any {
		return map[string]any{"count": intQuery(r, "count")}
	}))
	r.Get("/search/dateModified", s.mirror("search.dateModified", rangeQuery))
	r.Get("/search/dateAdded", s.mirror("search.dateAdded", rangeQuery))
	r.Get("/search/artist/{artist}", s.mirror("search.artist", func(r *http.Request) any {
		return map[string]any{
			"artist": chi.URLParam(r, "artist"),
			"start":  intQuery(r, "start"),
			"count":  intQuery(r, "count"),
		}
	}))
	r.Get("/search/tags", s.mirror("search.tags", func(r *http.Request) any {
		return map[string]any{
			"tags":  r.URL.Query()["tag"],
			"start": intQuery(r, "start"),
			"count": intQuery(r, "count"),
		}
	}))

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func rangeQuery(r *http.Request) any {
	return map[string]any{
		"min":   intQuery(r, "min"),
		"max":   intQuery(r, "max"),
		"start": intQuery(r, "start"),
		"count": intQuery(r, "count"),
	}
}

func intQuery(r *http.Request, name string) int64 {
	var v int64
	fmt.Sscan(r.URL.Query().Get(name), &v)
	return v
}

// mirror exposes a read-only protocol event over plain HTTP. The event
// handler runs with no connection, so anything auth-gated stays
// unreachable from here.
func (s *Server) mirror(event string, params func(*http.Request) any) http.HandlerFunc {
	handler := map[string]session.Handler{
		"get.single":          s.handlers.GetSingle,
		"get.batch":           s.handlers.GetBatch,
		"get.random":          s.handlers.GetRandom,
		"search.dateModified": s.handlers.SearchDateModified,
		"search.dateAdded":    s.handlers.SearchDateAdded,
		"search.artist":       s.handlers.SearchArtist,
		"search.tags":         s.handlers.SearchTags,
	}[event]

	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := json.Marshal(params(r))
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed request")
			return
		}
		result, err := handler(r.Context(), raw, nil)
		if err != nil {
			status := http.StatusInternalServerError
			message := "internal error"
			if typed, ok := errors.AsError(err); ok {
				status = statusFor(typed.Kind)
				message = typed.Message
			} else {
				slog.Error("web_mirror_failed", "event", event, "error", err)
			}
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindNotAuthorized:
		return http.StatusForbidden
	case errors.KindLocked, errors.KindCapacityExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleUpload accepts the image bytes for a registered record. The bytes
// must hash to the content hash the record was registered with; the
// uploaded flag is rolled back if the blob write fails so the client can
// retry.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "uuid")
	if !uid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}

	img, err := s.store.GetMetadata(ctx, id)
	if err != nil {
		slog.Error("web_upload_metadata_failed", "uuid", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if img == nil {
		writeError(w, http.StatusNotFound, "image is not registered")
		return
	}
	if img.Uploaded {
		writeError(w, http.StatusGone, "image was already uploaded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxImageSize)
	if err := r.ParseMultipartForm(s.opts.MaxImageSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable image")
		return
	}

	sum := sha1.Sum(data)
	if hex.EncodeToString(sum[:]) != img.Hash {
		writeError(w, http.StatusBadRequest, "image bytes do not match registered hash")
		return
	}

	size := int64(len(data))
	uploaded := true
	err = s.store.UpdateMetadata(ctx, id, store.Update{
		Size:         &size,
		Uploaded:     &uploaded,
		DateModified: time.Now().UnixMilli(),
	})
	if err != nil {
		slog.Error("web_upload_flag_failed", "uuid", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.blobs.Put(ctx, id+"."+img.Type, img.Type, data); err != nil {
		slog.Error("web_upload_blob_failed", "uuid", id, "error", err)
		if rbErr := s.store.SetImageNotUploaded(ctx, id); rbErr != nil {
			slog.Error("web_upload_rollback_failed", "uuid", id, "error", rbErr)
		}
		writeError(w, http.StatusBadGateway, "failed to store image")
		return
	}

	slog.Info("web_upload_complete", "uuid", id, "size", size)
	writeJSON(w, http.StatusCreated, map[string]string{
		"link": fmt.Sprintf("%s/%s.%s", s.opts.ImageURL, id, img.Type),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web_response_write_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
