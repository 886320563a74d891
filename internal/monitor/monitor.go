// Package monitor runs the background detection loop. While the system
// is armed it executes inference cycles over the configured cameras at
// the configured interval, records results, dispatches alerts, and
// force-disarms the system once repeated cycle timeouts indicate the
// inference endpoint is gone. The loop stays alive for the lifetime of
// the process: any in-cycle fault is downgraded to a recorded error.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fallwatch/fallwatch/internal/alerts"
	"github.com/fallwatch/fallwatch/internal/metrics"
	"github.com/fallwatch/fallwatch/internal/model"
	"github.com/fallwatch/fallwatch/internal/ollama"
)

const (
	pollInterval     = 500 * time.Millisecond
	breakerThreshold = 3
	breakerMessage   = "Monitoring paused after repeated timeouts."
)

type ArmedStore interface {
	MonitorView() (bool, map[string]any)
	SetArmed(armed bool, armedBy string) model.ArmedState
}

type Recorder interface {
	Record(entry model.ResponseEntry)
}

type Analyzer interface {
	Analyze(ctx context.Context, req ollama.AnalyzeRequest) (ollama.AnalyzeResult, error)
}

type AlertDispatcher interface {
	Dispatch(ctx context.Context, creds alerts.EmailCredentials, alert alerts.Alert) error
}

type Runner struct {
	state     ArmedStore
	responses Recorder
	analyzer  Analyzer
	alerts    AlertDispatcher

	mu     sync.Mutex
	status model.MonitorStatus

	now  func() time.Time
	poll time.Duration
}

func NewRunner(state ArmedStore, responses Recorder, analyzer Analyzer, dispatcher AlertDispatcher) *Runner {
	return &Runner{
		state:     state,
		responses: responses,
		analyzer:  analyzer,
		alerts:    dispatcher,
		now:       time.Now,
		poll:      pollInterval,
	}
}

// Start launches the loop; it exits only when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) Status() model.MonitorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// loop polls the armed flag every tick so disarm (and shutdown) are
// responsive within the poll cadence, never blocked behind a full cycle
// interval. The next run is scheduled from cycle start, so a slow cycle
// neither stacks delay nor runs back to back.
func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	var nextRun time.Time
	for {
		select {
		case <-ctx.Done():
			r.setRunning(false)
			return
		case <-ticker.C:
		}

		armed, cfg := r.state.MonitorView()
		if !armed {
			r.setRunning(false)
			continue
		}
		r.setRunning(true)

		if r.now().Before(nextRun) {
			continue
		}
		start := r.now()
		r.safeCycle(ctx, cfg)
		nextRun = start.Add(resolveInterval(cfg))
	}
}

func (r *Runner) safeCycle(ctx context.Context, cfg map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			message := fmt.Sprintf("monitor cycle panic: %v", p)
			r.recordError(message)
			log.Printf("monitor_cycle_panic err=%q", message)
			metrics.Default().IncCounter("fallwatch_monitor_cycles_total", map[string]string{"status": "panic"})
		}
	}()

	start := r.now()
	r.cycle(ctx, cfg)
	metrics.Default().ObserveHistogram("fallwatch_monitor_cycle_duration_ms",
		float64(time.Since(start).Milliseconds()), nil)
}

// cycle runs one pass over the resolved cameras. Cameras are analyzed
// sequentially to bound load on the inference endpoint and keep alert
// ordering deterministic.
func (r *Runner) cycle(ctx context.Context, cfg map[string]any) {
	settings, err := resolveSettings(cfg)
	if err != nil {
		r.recordError(err.Error())
		log.Printf("monitor_cycle_skipped reason=%q", err.Error())
		metrics.Default().IncCounter("fallwatch_monitor_cycles_total", map[string]string{"status": "skipped"})
		return
	}
	cameras := resolveCameras(cfg)
	if len(cameras) == 0 {
		r.recordError("No cameras configured.")
		log.Printf("monitor_cycle_skipped reason=%q", "No cameras configured.")
		metrics.Default().IncCounter("fallwatch_monitor_cycles_total", map[string]string{"status": "skipped"})
		return
	}

	hadSuccess := false
	hadTimeout := false
	for _, camera := range cameras {
		req := ollama.AnalyzeRequest{
			Host:           settings.Host,
			Port:           settings.Port,
			Model:          settings.Model,
			Prompt:         settings.Prompt,
			Trigger:        settings.Trigger,
			TimeoutSeconds: settings.TimeoutSeconds,
			PreviewURL:     str(camera, "previewUrl"),
			PreviewMode:    str(camera, "previewMode"),
			StreamURL:      str(camera, "streamUrl"),
			CameraID:       str(camera, "id"),
			CameraName:     str(camera, "name"),
			CameraModel:    str(camera, "model"),
		}

		started := r.now()
		result, err := r.analyzer.Analyze(ctx, req)
		durMS := float64(time.Since(started).Milliseconds())
		if err != nil {
			status := "error"
			if isTimeoutError(err) {
				hadTimeout = true
				status = "timeout"
			}
			log.Printf("monitor_camera_failed camera=%s status=%s duration_ms=%d err=%q",
				req.CameraName, status, int64(durMS), err.Error())
			metrics.Default().IncCounter("fallwatch_inference_requests_total", map[string]string{"status": status})
			metrics.Default().ObserveHistogram("fallwatch_inference_latency_ms", durMS, map[string]string{"status": status})
			continue
		}
		hadSuccess = true
		metrics.Default().IncCounter("fallwatch_inference_requests_total", map[string]string{"status": "ok"})
		metrics.Default().ObserveHistogram("fallwatch_inference_latency_ms", durMS, map[string]string{"status": "ok"})

		r.responses.Record(model.ResponseEntry{
			Timestamp:   r.now().Unix(),
			Text:        result.Text,
			Model:       settings.Model,
			Triggered:   result.Triggered,
			CameraID:    req.CameraID,
			CameraName:  req.CameraName,
			CameraModel: req.CameraModel,
		})

		if result.Triggered {
			r.dispatchAlert(ctx, cfg, req, result)
		}
	}

	now := r.now()
	r.mu.Lock()
	r.status.LastRun = now.Unix()
	if hadTimeout {
		r.status.ConsecutiveTimeouts++
	} else if hadSuccess {
		r.status.ConsecutiveTimeouts = 0
	}
	if hadSuccess {
		r.status.LastSuccess = now.Unix()
	}
	tripped := r.status.ConsecutiveTimeouts >= breakerThreshold
	if tripped {
		r.status.LastError = breakerMessage
		r.status.LastErrorAt = now.Unix()
	}
	r.mu.Unlock()

	metrics.Default().IncCounter("fallwatch_monitor_cycles_total", map[string]string{"status": cycleStatus(hadSuccess, hadTimeout)})
	if tripped {
		// The breaker is the only path by which the monitor mutates the
		// armed flag.
		r.state.SetArmed(false, "")
		log.Printf("monitor_breaker_tripped consecutive_timeouts=%d", breakerThreshold)
		metrics.Default().IncCounter("fallwatch_breaker_trips_total", nil)
	}
}

func (r *Runner) dispatchAlert(ctx context.Context, cfg map[string]any, req ollama.AnalyzeRequest, result ollama.AnalyzeResult) {
	creds, err := resolveCredentials(cfg)
	if err != nil {
		// Disabled alerts are an operator choice; anything else is worth a
		// line in the log. Neither fails the cycle.
		if err != errAlertsDisabled {
			log.Printf("alert_skipped camera=%s reason=%q", req.CameraName, err.Error())
		}
		return
	}

	alert := alerts.Alert{
		Event:       "fall_detected",
		Subject:     "Fall Detector Alert",
		Text:        result.Text,
		Image:       result.Image,
		ImageType:   result.ImageType,
		CameraID:    req.CameraID,
		CameraName:  req.CameraName,
		CameraModel: req.CameraModel,
	}
	if err := r.alerts.Dispatch(ctx, creds, alert); err != nil {
		log.Printf("alert_dispatch_failed camera=%s err=%q", req.CameraName, err.Error())
	}
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Running = running
}

func (r *Runner) recordError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastError = message
	r.status.LastErrorAt = r.now().Unix()
}

func cycleStatus(hadSuccess, hadTimeout bool) string {
	switch {
	case hadTimeout:
		return "timeout"
	case hadSuccess:
		return "ok"
	default:
		return "error"
	}
}

// isTimeoutError preserves the source system's breaker classification: a
// case-insensitive substring match on the error text. Brittle by
// contract; a structured error class would be the redesign.
func isTimeoutError(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timed out") || strings.Contains(message, "timeout")
}
