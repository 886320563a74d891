// Package alerts is the alert collaborator: email delivery plus optional
// fan-out of alert events to MQTT and snapshot archival to object
// storage. Fan-out failures are logged, never propagated; email is the
// primary channel and its error is the dispatch result.
package alerts

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fallwatch/fallwatch/internal/metrics"
)

// Alert carries everything known about one triggered detection.
type Alert struct {
	Event       string
	Subject     string
	Text        string
	Image       []byte
	ImageType   string
	CameraID    string
	CameraName  string
	CameraModel string
}

// BuildBody renders the plain-text alert body: event, time, camera
// identity, then the inference text.
func BuildBody(alert Alert, at time.Time) string {
	event := alert.Event
	if event == "" {
		event = "alert"
	}
	cameraName := alert.CameraName
	if cameraName == "" {
		cameraName = "Camera"
	}
	cameraModel := alert.CameraModel
	if cameraModel == "" {
		cameraModel = "Unknown model"
	}
	lines := []string{
		fmt.Sprintf("Event: %s", event),
		fmt.Sprintf("Time: %s", at.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Camera: %s (%s)", cameraName, cameraModel),
	}
	if alert.Text != "" {
		lines = append(lines, "", "Inference:", alert.Text)
	}
	return strings.Join(lines, "\n")
}

type Dispatcher struct {
	email     *EmailSender
	publisher *Publisher
	archive   *Archive
	now       func() time.Time
}

func NewDispatcher(email *EmailSender, publisher *Publisher, archive *Archive) *Dispatcher {
	return &Dispatcher{email: email, publisher: publisher, archive: archive, now: time.Now}
}

// Dispatch archives the snapshot, publishes the event, and sends the
// alert email. Archive and publish are best-effort; the email error is
// returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, creds EmailCredentials, alert Alert) error {
	at := d.now()

	var snapshotURL string
	if d.archive != nil && len(alert.Image) > 0 {
		url, err := d.archive.Save(ctx, at, alert.Image, alert.ImageType)
		if err != nil {
			log.Printf("alert_archive_failed camera=%s err=%q", alert.CameraName, err.Error())
			metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "archive", "status": "error"})
		} else {
			snapshotURL = url
			metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "archive", "status": "ok"})
		}
	}

	if d.publisher != nil {
		err := d.publisher.Publish(Event{
			Event:       alert.Event,
			Timestamp:   at.Unix(),
			CameraID:    alert.CameraID,
			CameraName:  alert.CameraName,
			CameraModel: alert.CameraModel,
			Text:        alert.Text,
			SnapshotURL: snapshotURL,
		})
		if err != nil {
			log.Printf("alert_publish_failed camera=%s err=%q", alert.CameraName, err.Error())
			metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "mqtt", "status": "error"})
		} else {
			metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "mqtt", "status": "ok"})
		}
	}

	err := d.email.Send(ctx, creds, Email{
		Subject:   alert.Subject,
		Body:      BuildBody(alert, at),
		Image:     alert.Image,
		ImageType: alert.ImageType,
	})
	if err != nil {
		metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "email", "status": "error"})
		return err
	}
	metrics.Default().IncCounter("fallwatch_alerts_total", map[string]string{"channel": "email", "status": "ok"})
	return nil
}
