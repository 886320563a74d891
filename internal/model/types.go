package model

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionKicked SessionStatus = "kicked"
	SessionClosed SessionStatus = "closed"
)

// Session is one operator seat claim, identified by a caller-supplied
// opaque token. Sessions are never deleted so the kicked/closed audit
// trail survives for the lifetime of the process.
type Session struct {
	ID        string        `json:"id"`
	Token     string        `json:"-"`
	Name      string        `json:"name"`
	IP        string        `json:"ip"`
	UserAgent string        `json:"user_agent"`
	Status    SessionStatus `json:"status"`
	StartedAt int64         `json:"started_at"`
	KickedBy  string        `json:"kicked_by,omitempty"`
	KickedAt  int64         `json:"kicked_at,omitempty"`
	EndedAt   int64         `json:"ended_at,omitempty"`
}

// ArmedState is the monitoring arm/disarm flag. ArmedAt and ArmedBy are
// set iff Armed is true. Timestamps are Unix seconds, 0 means unset.
type ArmedState struct {
	Armed   bool   `json:"armed"`
	ArmedAt int64  `json:"armed_at"`
	ArmedBy string `json:"armed_by"`
}

// ResponseEntry is one completed inference call. Entries are append-only
// and evicted lazily once older than the store's retention window.
type ResponseEntry struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	Text        string `json:"text"`
	Model       string `json:"model"`
	Triggered   bool   `json:"triggered"`
	CameraID    string `json:"camera_id"`
	CameraName  string `json:"camera_name"`
	CameraModel string `json:"camera_model"`
}

// PullState is the singleton model-download state. At most one streaming
// pull is in progress at any time.
type PullState struct {
	InProgress bool   `json:"in_progress"`
	Status     string `json:"status"`
	Completed  int64  `json:"completed"`
	Total      int64  `json:"total"`
	Model      string `json:"model"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Error      string `json:"error"`
	StartedAt  int64  `json:"started_at"`
}

// MonitorStatus is the transient runtime state of the monitor loop,
// rebuilt on every process start. ConsecutiveTimeouts is the circuit
// breaker counter.
type MonitorStatus struct {
	Running             bool   `json:"running"`
	LastRun             int64  `json:"last_run"`
	LastSuccess         int64  `json:"last_success"`
	LastError           string `json:"last_error"`
	LastErrorAt         int64  `json:"last_error_at"`
	ConsecutiveTimeouts int    `json:"consecutive_timeouts"`
}
