package alerts

import (
	"strings"
	"testing"
	"time"
)

func TestBuildBody(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	body := BuildBody(Alert{
		Event:       "fall_detected",
		Text:        "A person is lying on the kitchen floor.",
		CameraName:  "Kitchen",
		CameraModel: "Tapo C210",
	}, at)

	want := strings.Join([]string{
		"Event: fall_detected",
		"Time: 2026-03-14 09:26:53",
		"Camera: Kitchen (Tapo C210)",
		"",
		"Inference:",
		"A person is lying on the kitchen floor.",
	}, "\n")
	if body != want {
		t.Fatalf("unexpected body:\n%s", body)
	}
}

func TestBuildBodyDefaults(t *testing.T) {
	body := BuildBody(Alert{}, time.Unix(0, 0).UTC())
	if !strings.Contains(body, "Event: alert") {
		t.Fatalf("expected default event, got:\n%s", body)
	}
	if !strings.Contains(body, "Camera: Camera (Unknown model)") {
		t.Fatalf("expected camera placeholders, got:\n%s", body)
	}
	if strings.Contains(body, "Inference:") {
		t.Fatalf("empty inference text must be omitted, got:\n%s", body)
	}
}
