// Package api provides the vault HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"regexp"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/auth"
	"github.com/nanome-ai/plugin-vault/internal/events"
	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/internal/quota"
	"github.com/nanome-ai/plugin-vault/internal/retention"
	"github.com/nanome-ai/plugin-vault/internal/uploads"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// multipart parts above this size spill to temp files
const maxFormMemory = 32 << 20

// a path names a file when its last segment has an extension
var fileRegex = regexp.MustCompile(`\.[^/]+$`)

// Deps bundles the collaborators of a Server. Store and Uploads are
// required; everything else is optional.
type Deps struct {
	Store       *filestore.Store
	Uploads     *uploads.Manager
	Sweeper     *retention.Sweeper
	Broadcaster *events.Broadcaster
	Auth        *auth.Auth // nil disables authentication
	RateLimiter *quota.RateLimiter

	KeepFilesDays int
	UIMessage     string
	AssetDir      string // empty serves the embedded UI
	MaxUploadSize int64
}

// Server is the HTTP server.
type Server struct {
	store       *filestore.Store
	uploads     *uploads.Manager
	sweeper     *retention.Sweeper
	broadcaster *events.Broadcaster
	auth        *auth.Auth
	rateLimiter *quota.RateLimiter
	assets      *pathsafe.Resolver

	keepFilesDays int
	uiMessage     string
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Uploads == nil {
		return nil, fmt.Errorf("api: store and uploads are required")
	}
	s := &Server{
		store:         deps.Store,
		uploads:       deps.Uploads,
		sweeper:       deps.Sweeper,
		broadcaster:   deps.Broadcaster,
		auth:          deps.Auth,
		rateLimiter:   deps.RateLimiter,
		keepFilesDays: deps.KeepFilesDays,
		uiMessage:     deps.UIMessage,
		maxUploadSize: deps.MaxUploadSize,
	}
	if s.rateLimiter == nil {
		s.rateLimiter = quota.NewRateLimiter(0)
	}
	if deps.AssetDir != "" {
		assets, err := pathsafe.New(deps.AssetDir)
		if err != nil {
			return nil, fmt.Errorf("asset dir: %w", err)
		}
		s.assets = assets
	}
	return s, nil
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("/", s.handleStatic)

	// Vault endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /files", s.handleGet)
	protected.HandleFunc("GET /files/{path...}", s.handleGet)
	protected.HandleFunc("POST /files", s.handlePost)
	protected.HandleFunc("POST /files/{path...}", s.handlePost)
	protected.HandleFunc("GET /events", s.handleEvents)

	var authed http.Handler = protected
	if s.auth != nil {
		authed = s.auth.Middleware(protected)
	}
	rateLimited := quota.RateLimitMiddleware(s.rateLimiter, principalName)(authed)
	mux.Handle("/files", rateLimited)
	mux.Handle("/files/", rateLimited)
	mux.Handle("/events", rateLimited)

	return metrics.Middleware(logging.Middleware(mux))
}

// principalName charges requests to the authenticated principal, or to the
// client address when authentication is off.
func principalName(r *http.Request) string {
	if p := auth.PrincipalFrom(r.Context()); p != nil {
		return p.Name()
	}
	return quota.RemoteIP(r)
}

// scope checks that the caller may touch rel and returns a context scoped to
// the caller's account.
func (s *Server) scope(r *http.Request, rels ...string) (context.Context, error) {
	ctx := r.Context()
	p := auth.PrincipalFrom(ctx)
	if p == nil || p.Trusted {
		return ctx, nil
	}
	for _, rel := range rels {
		if !p.CanAccess(pathsafe.Clean(rel)) {
			return nil, errOutOfScope
		}
	}
	return filestore.WithAccount(ctx, p.Account), nil
}

// isFilePath reports whether a GET names a file rather than a folder.
func isFilePath(rel string) bool {
	return fileRegex.MatchString(path.Clean("/" + rel))
}

// ─── Health & Info ──────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.InfoResponse{
		Success:    true,
		Extensions: filestore.Extensions,
		Message:    s.uiMessage,
	})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		sendError(w, http.StatusNotFound, "Not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// subscribe before the headers go out so no event after them is missed
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	p := auth.PrincipalFrom(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if p != nil && !p.CanAccess(event.Path) {
				continue
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType, rel string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(eventType, rel)
}

// sweep runs the retention sweep in the background. The sweeper's cooldown
// bounds how often it actually walks the vault.
func (s *Server) sweep() {
	if s.sweeper == nil || s.keepFilesDays <= 0 {
		return
	}
	go func() {
		if _, err := s.sweeper.Run(context.Background(), s.keepFilesDays); err != nil {
			logging.Error("retention sweep failed", zap.Error(err))
		}
	}()
}

// ─── Responses ──────────────────────────────────────────────────────────────

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, protocol.ErrorResponse{Success: false, Error: message})
}

func sendSuccess(w http.ResponseWriter) {
	sendJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}

// fail maps err to a status and writes the error envelope. It returns the
// status for metrics.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) int {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if id := logging.GetRequestID(r.Context()); id != "" {
			msg = fmt.Sprintf("%s (request %s)", msg, id)
		}
	}
	sendError(w, status, msg)
	return status
}
