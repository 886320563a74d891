package monitor

import (
	"testing"
	"time"
)

func ollamaCfg(fields map[string]any) map[string]any {
	base := map[string]any{
		"host":   "127.0.0.1",
		"port":   float64(11434),
		"model":  "llava",
		"prompt": "Is anyone on the floor?",
	}
	for k, v := range fields {
		base[k] = v
	}
	return map[string]any{"ollama": base}
}

func TestResolveSettings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr string
	}{
		{"no ollama section", map[string]any{}, "Missing Ollama settings."},
		{"missing host", ollamaCfg(map[string]any{"host": ""}), "Missing Ollama host, model, or prompt."},
		{"missing model", ollamaCfg(map[string]any{"model": "  "}), "Missing Ollama host, model, or prompt."},
		{"missing port", ollamaCfg(map[string]any{"port": nil}), "Invalid Ollama port."},
		{"zero port", ollamaCfg(map[string]any{"port": float64(0)}), "Invalid Ollama port."},
		{"port as string", ollamaCfg(map[string]any{"port": "11434"}), "Invalid Ollama port."},
		{"valid", ollamaCfg(nil), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			settings, err := resolveSettings(tc.cfg)
			if tc.wantErr != "" {
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf("expected error %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if settings.Host != "127.0.0.1" || settings.Port != 11434 || settings.Model != "llava" {
				t.Fatalf("unexpected settings: %+v", settings)
			}
		})
	}
}

func TestResolveSettingsReadsTimeout(t *testing.T) {
	settings, err := resolveSettings(ollamaCfg(map[string]any{"timeoutSeconds": float64(45)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.TimeoutSeconds != 45 {
		t.Fatalf("expected timeout 45, got %g", settings.TimeoutSeconds)
	}
}

func camera(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name}
}

func TestResolveCameras(t *testing.T) {
	list := []any{camera("a", "Kitchen"), camera("b", "Bedroom"), camera("c", "Hall")}

	tests := []struct {
		name    string
		cfg     map[string]any
		wantIDs []string
	}{
		{
			"monitor all",
			map[string]any{"cameras": list, "monitorAllCameras": true},
			[]string{"a", "b", "c"},
		},
		{
			"active camera",
			map[string]any{"cameras": list, "activeCameraId": "b"},
			[]string{"b"},
		},
		{
			"active camera not found falls back to first",
			map[string]any{"cameras": list, "activeCameraId": "zz"},
			[]string{"a"},
		},
		{
			"no selector falls back to first",
			map[string]any{"cameras": list},
			[]string{"a"},
		},
		{
			"legacy single camera",
			map[string]any{"camera": camera("solo", "Living Room")},
			[]string{"solo"},
		},
		{
			"nothing configured",
			map[string]any{},
			nil,
		},
		{
			"empty camera list",
			map[string]any{"cameras": []any{}},
			nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cameras := resolveCameras(tc.cfg)
			if len(cameras) != len(tc.wantIDs) {
				t.Fatalf("expected %d cameras, got %d", len(tc.wantIDs), len(cameras))
			}
			for i, id := range tc.wantIDs {
				if got := str(cameras[i], "id"); got != id {
					t.Fatalf("camera %d: expected id %q, got %q", i, id, got)
				}
			}
		})
	}
}

func TestResolveInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want time.Duration
	}{
		{"interval set", ollamaCfg(map[string]any{"intervalSeconds": float64(60)}), 60 * time.Second},
		{"falls back to timeout", ollamaCfg(map[string]any{"timeoutSeconds": float64(30)}), 30 * time.Second},
		{"interval wins over timeout", ollamaCfg(map[string]any{"intervalSeconds": float64(90), "timeoutSeconds": float64(30)}), 90 * time.Second},
		{"default when neither set", ollamaCfg(nil), defaultInterval},
		{"clamped to floor", ollamaCfg(map[string]any{"intervalSeconds": float64(5)}), minInterval},
		{"no ollama section", map[string]any{}, defaultInterval},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveInterval(tc.cfg); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func alertsCfg(fields map[string]any) map[string]any {
	base := map[string]any{
		"emailEnabled":     true,
		"gmailUser":        "watch@example.com",
		"gmailAppPassword": "app-password",
	}
	for k, v := range fields {
		base[k] = v
	}
	return map[string]any{
		"alerts": base,
		"responders": []any{
			map[string]any{"name": "Dana", "email": "dana@example.com"},
			map[string]any{"name": "No Email"},
		},
	}
}

func TestResolveCredentials(t *testing.T) {
	creds, err := resolveCredentials(alertsCfg(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.User != "watch@example.com" || creds.Password != "app-password" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if creds.Sender != "watch@example.com" {
		t.Fatalf("sender must default to the account user, got %q", creds.Sender)
	}
	if len(creds.Recipients) != 1 || creds.Recipients[0] != "dana@example.com" {
		t.Fatalf("unexpected recipients: %v", creds.Recipients)
	}
}

func TestResolveCredentialsDisabled(t *testing.T) {
	_, err := resolveCredentials(alertsCfg(map[string]any{"emailEnabled": false}))
	if err != errAlertsDisabled {
		t.Fatalf("expected errAlertsDisabled, got %v", err)
	}
}

func TestResolveCredentialsErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr string
	}{
		{"no alerts section", map[string]any{}, "Missing alert settings."},
		{"missing password", alertsCfg(map[string]any{"gmailAppPassword": ""}), "Missing Gmail credentials."},
		{"missing user", alertsCfg(map[string]any{"gmailUser": ""}), "Missing Gmail credentials."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveCredentials(tc.cfg)
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("expected %q, got %v", tc.wantErr, err)
			}
		})
	}

	cfg := alertsCfg(nil)
	cfg["responders"] = []any{}
	if _, err := resolveCredentials(cfg); err == nil || err.Error() != "No responder emails configured." {
		t.Fatalf("expected missing responders error, got %v", err)
	}
}
