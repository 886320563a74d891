package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fallwatch/fallwatch/internal/alerts"
	"github.com/fallwatch/fallwatch/internal/config"
	"github.com/fallwatch/fallwatch/internal/metrics"
	"github.com/fallwatch/fallwatch/internal/model"
	"github.com/fallwatch/fallwatch/internal/ollama"
	"github.com/fallwatch/fallwatch/internal/pull"
	"github.com/fallwatch/fallwatch/internal/session"
)

type SessionArbiter interface {
	Start(name, token string, client session.ClientInfo) session.StartResult
	Takeover(name, token string, client session.ClientInfo) session.TakeoverResult
	Close(token string)
	Require(token string) *session.Denial
}

type ArmedStore interface {
	Armed() model.ArmedState
	SetArmed(armed bool, armedBy string) model.ArmedState
	Config() map[string]any
	SetConfig(doc map[string]any) map[string]any
}

type ResponseLog interface {
	Record(entry model.ResponseEntry)
	Snapshot() []model.ResponseEntry
}

type PullCoordinator interface {
	Begin(host string, port int, modelName string) (model.PullState, error)
	AttachStream(stream io.Closer)
	Apply(ev pull.ProgressEvent)
	Cancelled() bool
	Cancel() error
	Finish()
	Abort(message string)
	Status() model.PullState
}

type InferenceClient interface {
	Analyze(ctx context.Context, req ollama.AnalyzeRequest) (ollama.AnalyzeResult, error)
	Tags(ctx context.Context, host string, port int) (ollama.TagsResult, error)
	Check(ctx context.Context, url string) (ollama.CheckResult, error)
	Pull(ctx context.Context, host string, port int, modelName string) (string, error)
	PullStream(ctx context.Context, host string, port int, modelName string) (io.ReadCloser, error)
}

type EmailSender interface {
	Send(ctx context.Context, creds alerts.EmailCredentials, msg alerts.Email) error
}

type MonitorStatus interface {
	Status() model.MonitorStatus
}

type Deps struct {
	Sessions  SessionArbiter
	State     ArmedStore
	Responses ResponseLog
	Pulls     PullCoordinator
	Inference InferenceClient
	Email     EmailSender
	Monitor   MonitorStatus
}

type Server struct {
	cfg config.Config
	d   Deps
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	s := &Server{cfg: cfg, d: d}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Vision inference on a CPU-bound Ollama host can take well over a
	// minute before the handler writes a response.
	r.Use(middleware.Timeout(3 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/session/start", s.handleSessionStart)
		api.Post("/session/takeover", s.handleSessionTakeover)
		api.Post("/session/close", s.handleSessionClose)

		api.Group(func(protected chi.Router) {
			protected.Use(s.requireSession)
			protected.Get("/state", s.handleStateGet)
			protected.Post("/state", s.handleStateSet)
			protected.Get("/config", s.handleConfigGet)
			protected.Post("/config", s.handleConfigSet)
			protected.Get("/monitor", s.handleMonitorStatus)
			protected.Get("/ollama-responses", s.handleResponses)
			protected.Get("/ollama-tags", s.handleOllamaTags)
			protected.Get("/check-ollama", s.handleCheckOllama)
			protected.Get("/check-preview", s.handleCheckPreview)
			protected.Post("/ollama-analyze", s.handleAnalyze)
			protected.Post("/email-alert", s.handleEmailAlert)
			protected.Post("/ollama-pull", s.handlePull)
			protected.Post("/ollama-pull-cancel", s.handlePullCancel)
			protected.Get("/ollama-pull-status", s.handlePullStatus)
		})
	})

	if cfg.WebRoot != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.WebRoot)))
	}
	return r
}

// requireSession gates every protected route through the arbiter. The
// token travels in the X-Session-Token header or a session query
// parameter; it is opaque and caller-generated.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		denial := s.d.Sessions.Require(sessionToken(r))
		if denial == nil {
			next.ServeHTTP(w, r)
			return
		}
		payload := map[string]any{"ok": false, "error": denial.Message}
		status := http.StatusUnauthorized
		switch denial.Code {
		case session.CodeKicked:
			status = http.StatusForbidden
			payload["kicked_by"] = denial.KickedBy
		case session.CodeOccupied:
			status = http.StatusForbidden
			payload["active_user"] = denial.ActiveUser
		}
		writeJSON(w, status, payload)
	})
}

func sessionToken(r *http.Request) string {
	if token := r.Header.Get("X-Session-Token"); token != "" {
		return token
	}
	return r.URL.Query().Get("session")
}

func clientInfo(r *http.Request) session.ClientInfo {
	// middleware.RealIP has already folded X-Forwarded-For into RemoteAddr.
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return session.ClientInfo{IP: ip, UserAgent: r.Header.Get("User-Agent")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
