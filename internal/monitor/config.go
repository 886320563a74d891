package monitor

import (
	"errors"
	"strings"
	"time"

	"github.com/fallwatch/fallwatch/internal/alerts"
)

const (
	defaultInterval = 180 * time.Second
	minInterval     = 10 * time.Second
)

// errAlertsDisabled marks the one credential-resolution outcome that is
// an operator choice rather than a misconfiguration.
var errAlertsDisabled = errors.New("Email alerts disabled.")

type inferenceSettings struct {
	Host           string
	Port           int
	Model          string
	Prompt         string
	Trigger        string
	TimeoutSeconds float64
}

// resolveSettings reads config.ollama. The config document is operator
// supplied and opaque until this moment, so every field is read
// defensively.
func resolveSettings(cfg map[string]any) (inferenceSettings, error) {
	ollama, ok := cfg["ollama"].(map[string]any)
	if !ok {
		return inferenceSettings{}, errors.New("Missing Ollama settings.")
	}
	settings := inferenceSettings{
		Host:    str(ollama, "host"),
		Model:   str(ollama, "model"),
		Prompt:  str(ollama, "prompt"),
		Trigger: str(ollama, "trigger"),
	}
	if settings.Host == "" || settings.Model == "" || settings.Prompt == "" {
		return inferenceSettings{}, errors.New("Missing Ollama host, model, or prompt.")
	}
	port, ok := num(ollama, "port")
	if !ok || int(port) <= 0 {
		return inferenceSettings{}, errors.New("Invalid Ollama port.")
	}
	settings.Port = int(port)
	if timeout, ok := num(ollama, "timeoutSeconds"); ok {
		settings.TimeoutSeconds = timeout
	}
	return settings, nil
}

// resolveCameras picks the camera set for a cycle: all cameras when
// monitorAllCameras is set, else the activeCameraId match, else the
// first camera, else the single legacy "camera" object.
func resolveCameras(cfg map[string]any) []map[string]any {
	if list, ok := cfg["cameras"].([]any); ok && len(list) > 0 {
		cameras := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if cam, ok := item.(map[string]any); ok {
				cameras = append(cameras, cam)
			}
		}
		if len(cameras) == 0 {
			return nil
		}
		if all, _ := cfg["monitorAllCameras"].(bool); all {
			return cameras
		}
		if activeID := str(cfg, "activeCameraId"); activeID != "" {
			for _, cam := range cameras {
				if str(cam, "id") == activeID {
					return []map[string]any{cam}
				}
			}
		}
		return cameras[:1]
	}
	if cam, ok := cfg["camera"].(map[string]any); ok {
		return []map[string]any{cam}
	}
	return nil
}

// resolveInterval computes the cycle interval: ollama.intervalSeconds,
// falling back to ollama.timeoutSeconds, falling back to the default.
// Clamped to a floor so a bad config cannot cause a request storm.
func resolveInterval(cfg map[string]any) time.Duration {
	ollama, _ := cfg["ollama"].(map[string]any)
	seconds, ok := num(ollama, "intervalSeconds")
	if !ok {
		seconds, ok = num(ollama, "timeoutSeconds")
	}
	if !ok {
		return defaultInterval
	}
	interval := time.Duration(seconds * float64(time.Second))
	if interval < minInterval {
		return minInterval
	}
	return interval
}

// resolveCredentials reads config.alerts and config.responders into the
// email credential set for a dispatch.
func resolveCredentials(cfg map[string]any) (alerts.EmailCredentials, error) {
	alertCfg, ok := cfg["alerts"].(map[string]any)
	if !ok {
		return alerts.EmailCredentials{}, errors.New("Missing alert settings.")
	}
	if enabled, _ := alertCfg["emailEnabled"].(bool); !enabled {
		return alerts.EmailCredentials{}, errAlertsDisabled
	}
	creds := alerts.EmailCredentials{
		User:       str(alertCfg, "gmailUser"),
		Password:   str(alertCfg, "gmailAppPassword"),
		Sender:     str(alertCfg, "senderEmail"),
		SenderName: str(alertCfg, "gmailSenderName"),
	}
	if creds.Sender == "" {
		creds.Sender = creds.User
	}
	if creds.User == "" || creds.Password == "" {
		return alerts.EmailCredentials{}, errors.New("Missing Gmail credentials.")
	}
	if creds.Sender == "" {
		return alerts.EmailCredentials{}, errors.New("Missing sender email.")
	}
	if responders, ok := cfg["responders"].([]any); ok {
		for _, item := range responders {
			responder, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if email := str(responder, "email"); email != "" {
				creds.Recipients = append(creds.Recipients, email)
			}
		}
	}
	if len(creds.Recipients) == 0 {
		return alerts.EmailCredentials{}, errors.New("No responder emails configured.")
	}
	return creds, nil
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func num(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
