package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/fallwatch/fallwatch/internal/alerts"
	"github.com/fallwatch/fallwatch/internal/metrics"
	"github.com/fallwatch/fallwatch/internal/model"
	"github.com/fallwatch/fallwatch/internal/ollama"
	"github.com/fallwatch/fallwatch/internal/pull"
)

// analyzeRequest mirrors the operator UI payload, which is camelCase on
// requests (responses stay snake_case).
type analyzeRequest struct {
	Host           string  `json:"host"`
	Port           any     `json:"port"`
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	Trigger        string  `json:"trigger"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
	PreviewMode    string  `json:"previewMode"`
	PreviewURL     string  `json:"previewUrl"`
	StreamURL      string  `json:"streamUrl"`
	CameraID       string  `json:"cameraId"`
	CameraName     string  `json:"cameraName"`
	CameraModel    string  `json:"cameraModel"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	host := strings.TrimSpace(req.Host)
	modelName := strings.TrimSpace(req.Model)
	prompt := strings.TrimSpace(req.Prompt)
	if host == "" || modelName == "" || prompt == "" {
		writeError(w, http.StatusBadRequest, "Missing host, model, or prompt")
		return
	}
	port, ok := coercePort(req.Port)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}

	result, err := s.d.Inference.Analyze(r.Context(), ollama.AnalyzeRequest{
		Host:           host,
		Port:           port,
		Model:          modelName,
		Prompt:         prompt,
		Trigger:        strings.TrimSpace(req.Trigger),
		TimeoutSeconds: req.TimeoutSeconds,
		PreviewURL:     strings.TrimSpace(req.PreviewURL),
		PreviewMode:    strings.TrimSpace(req.PreviewMode),
		StreamURL:      strings.TrimSpace(req.StreamURL),
		CameraID:       strings.TrimSpace(req.CameraID),
		CameraName:     strings.TrimSpace(req.CameraName),
		CameraModel:    strings.TrimSpace(req.CameraModel),
	})
	if err != nil {
		if errors.Is(err, ollama.ErrNoPreview) {
			writeError(w, http.StatusBadRequest, "No preview image available")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.d.Responses.Record(model.ResponseEntry{
		Text:        result.Text,
		Model:       modelName,
		Triggered:   result.Triggered,
		CameraID:    strings.TrimSpace(req.CameraID),
		CameraName:  strings.TrimSpace(req.CameraName),
		CameraModel: strings.TrimSpace(req.CameraModel),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"response":     result.Text,
		"triggered":    result.Triggered,
		"image":        base64.StdEncoding.EncodeToString(result.Image),
		"image_type":   result.ImageType,
		"camera_id":    strings.TrimSpace(req.CameraID),
		"camera_name":  strings.TrimSpace(req.CameraName),
		"camera_model": strings.TrimSpace(req.CameraModel),
	})
}

func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	host, port, ok := hostPortQuery(w, r)
	if !ok {
		return
	}
	tags, err := s.d.Inference.Tags(r.Context(), host, port)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	modelNames := tags.Models
	if modelNames == nil {
		modelNames = []string{}
	}
	runningNames := tags.RunningNames
	if runningNames == nil {
		runningNames = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"models":           modelNames,
		"installed_models": tags.InstalledModels,
		"running_models":   tags.RunningModels,
		"running_names":    runningNames,
	})
}

func (s *Server) handleCheckOllama(w http.ResponseWriter, r *http.Request) {
	host, port, ok := hostPortQuery(w, r)
	if !ok {
		return
	}
	s.checkURL(w, r, fmt.Sprintf("http://%s:%d/api/tags", host, port))
}

func (s *Server) handleCheckPreview(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "Missing url")
		return
	}
	s.checkURL(w, r, url)
}

func (s *Server) checkURL(w http.ResponseWriter, r *http.Request, url string) {
	result, err := s.d.Inference.Check(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"status":       result.Status,
		"content_type": result.ContentType,
	})
}

// emailAlertRequest is the manual alert-send payload; credentials arrive
// in the body because the server stores none of its own.
type emailAlertRequest struct {
	SMTPUser     string   `json:"smtp_user"`
	SMTPPassword string   `json:"smtp_password"`
	SenderEmail  string   `json:"sender_email"`
	SenderName   string   `json:"sender_name"`
	Recipients   []string `json:"recipients"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	ImageB64     string   `json:"image_b64"`
	ImageType    string   `json:"image_type"`
}

func (s *Server) handleEmailAlert(w http.ResponseWriter, r *http.Request) {
	var req emailAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	user := strings.TrimSpace(req.SMTPUser)
	password := strings.TrimSpace(req.SMTPPassword)
	if user == "" || password == "" {
		writeError(w, http.StatusBadRequest, "Missing Gmail credentials")
		return
	}
	sender := strings.TrimSpace(req.SenderEmail)
	if sender == "" {
		sender = user
	}
	if len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "Missing recipients")
		return
	}
	var image []byte
	if req.ImageB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid image data")
			return
		}
		image = decoded
	}

	err := s.d.Email.Send(r.Context(), alerts.EmailCredentials{
		User:       user,
		Password:   password,
		Sender:     sender,
		SenderName: strings.TrimSpace(req.SenderName),
		Recipients: req.Recipients,
	}, alerts.Email{
		Subject:   strings.TrimSpace(req.Subject),
		Body:      strings.TrimSpace(req.Body),
		Image:     image,
		ImageType: strings.TrimSpace(req.ImageType),
	})
	if err != nil {
		log.Printf("email_alert_failed err=%q", err.Error())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Email sent."})
}

type pullRequest struct {
	Host   string `json:"host"`
	Port   any    `json:"port"`
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	host := strings.TrimSpace(req.Host)
	modelName := strings.TrimSpace(req.Model)
	if host == "" || modelName == "" {
		writeError(w, http.StatusBadRequest, "Missing host or model")
		return
	}
	port, ok := coercePort(req.Port)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}

	if !req.Stream {
		if s.d.Pulls.Status().InProgress {
			writePullConflict(w, s.d.Pulls.Status())
			return
		}
		message, err := s.d.Inference.Pull(r.Context(), host, port, modelName)
		if err != nil {
			log.Printf("ollama_pull_failed model=%s err=%q", modelName, err.Error())
			metrics.Default().IncCounter("fallwatch_pull_total", map[string]string{"status": "error"})
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		metrics.Default().IncCounter("fallwatch_pull_total", map[string]string{"status": "ok"})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": message})
		return
	}

	s.streamPull(w, host, port, modelName)
}

// streamPull owns the single-flight slot for the duration of the
// transfer and mirrors upstream ndjson lines to the caller while folding
// progress into the coordinator. The deferred Finish guarantees the
// terminal transition on every exit path.
func (s *Server) streamPull(w http.ResponseWriter, host string, port int, modelName string) {
	if _, err := s.d.Pulls.Begin(host, port, modelName); err != nil {
		writePullConflict(w, s.d.Pulls.Status())
		return
	}

	// The transfer must outlive the route timeout; it is interrupted only
	// through the coordinator's forced close.
	stream, err := s.d.Inference.PullStream(context.Background(), host, port, modelName)
	if err != nil {
		log.Printf("ollama_pull_failed model=%s err=%q", modelName, err.Error())
		metrics.Default().IncCounter("fallwatch_pull_total", map[string]string{"status": "error"})
		s.d.Pulls.Abort(err.Error())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.d.Pulls.AttachStream(stream)
	defer func() {
		_ = stream.Close()
		s.d.Pulls.Finish()
		st := s.d.Pulls.Status()
		metrics.Default().IncCounter("fallwatch_pull_total", map[string]string{"status": pullOutcome(st)})
		log.Printf("ollama_pull_done model=%s status=%q", modelName, st.Status)
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if s.d.Pulls.Cancelled() {
			return
		}
		line := scanner.Bytes()
		var ev pull.ProgressEvent
		if err := json.Unmarshal(line, &ev); err == nil {
			s.d.Pulls.Apply(ev)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			log.Printf("ollama_pull_client_gone model=%s", modelName)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handlePullCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.d.Pulls.Cancel(); err != nil {
		writeError(w, http.StatusConflict, "No pull in progress.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Pull cancelled."})
}

func (s *Server) handlePullStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.d.Pulls.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"in_progress": st.InProgress,
		"status":      st.Status,
		"completed":   st.Completed,
		"total":       st.Total,
		"model":       st.Model,
		"host":        st.Host,
		"port":        st.Port,
		"error":       st.Error,
		"started_at":  st.StartedAt,
	})
}

func writePullConflict(w http.ResponseWriter, st model.PullState) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"ok":          false,
		"error":       "A model pull is already in progress.",
		"in_progress": true,
		"status":      st.Status,
		"completed":   st.Completed,
		"total":       st.Total,
		"model":       st.Model,
	})
}

func pullOutcome(st model.PullState) string {
	switch {
	case st.Error == "Cancelled by user.":
		return "cancelled"
	case st.Error != "":
		return "error"
	default:
		return "ok"
	}
}

func hostPortQuery(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	host := r.URL.Query().Get("host")
	rawPort := r.URL.Query().Get("port")
	if host == "" || rawPort == "" {
		writeError(w, http.StatusBadRequest, "Missing host/port")
		return "", 0, false
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return "", 0, false
	}
	return host, port, true
}

// coercePort accepts the UI's loose typing: a JSON number or a numeric
// string.
func coercePort(v any) (int, bool) {
	switch port := v.(type) {
	case float64:
		if port > 0 && port == float64(int(port)) {
			return int(port), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(port)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
