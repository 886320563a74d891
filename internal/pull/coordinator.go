// Package pull tracks the single-flight model download. The system never
// queues or parallelizes downloads: Begin fails while a pull is in
// flight, and cancellation is cooperative (a flag the streaming loop
// observes) backed by a forced close of the underlying transfer.
package pull

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fallwatch/fallwatch/internal/model"
)

var (
	ErrPullInProgress   = errors.New("a model pull is already in progress")
	ErrNoPullInProgress = errors.New("no pull in progress")
)

const (
	statusIdle      = "Idle."
	statusComplete  = "Pull complete."
	statusCancelled = "Pull cancelled."
	errCancelled    = "Cancelled by user."
)

// ProgressEvent mirrors one line of the upstream pull stream.
type ProgressEvent struct {
	Status    string `json:"status"`
	Completed *int64 `json:"completed"`
	Total     *int64 `json:"total"`
	Error     string `json:"error"`
}

type Coordinator struct {
	mu        sync.Mutex
	st        model.PullState
	cancelled bool
	stream    io.Closer
	now       func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		st:  model.PullState{Status: statusIdle},
		now: time.Now,
	}
}

// Begin claims the single-flight slot. While a pull is in flight it
// returns ErrPullInProgress along with the in-flight state, unchanged, so
// the caller can report current progress in the conflict response.
func (c *Coordinator) Begin(host string, port int, modelName string) (model.PullState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.InProgress {
		return c.st, ErrPullInProgress
	}
	c.st = model.PullState{
		InProgress: true,
		Status:     fmt.Sprintf("Pulling %s…", modelName),
		Model:      modelName,
		Host:       host,
		Port:       port,
		StartedAt:  c.now().Unix(),
	}
	c.cancelled = false
	c.stream = nil
	return c.st, nil
}

// AttachStream hands the coordinator the live transfer so a concurrent
// Cancel can force-close it.
func (c *Coordinator) AttachStream(stream io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
}

// Apply folds one upstream progress event into the state.
func (c *Coordinator) Apply(ev ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Status != "" {
		c.st.Status = ev.Status
	}
	if ev.Completed != nil {
		c.st.Completed = *ev.Completed
	}
	if ev.Total != nil {
		c.st.Total = *ev.Total
	}
	if ev.Error != "" {
		c.st.Error = ev.Error
	}
}

// Cancelled reports whether a cancel request arrived; the streaming loop
// checks this between lines.
func (c *Coordinator) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Cancel requests cooperative cancellation and force-closes the live
// transfer. Cancelling twice, or after the pull already finished, returns
// ErrNoPullInProgress. The close itself runs outside the lock.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if !c.st.InProgress {
		c.mu.Unlock()
		return ErrNoPullInProgress
	}
	c.cancelled = true
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	return nil
}

// Finish performs the terminal transition. Callers defer it as soon as
// the slot is claimed so a stuck "Pulling" state cannot leak out of an
// unexpected exit path. Finishing an already-idle coordinator is a no-op.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked()
}

// Abort records a failure message and finishes. Used when the transfer
// cannot even be opened.
func (c *Coordinator) Abort(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Error = message
	c.finishLocked()
}

func (c *Coordinator) Status() model.PullState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *Coordinator) finishLocked() {
	if !c.st.InProgress {
		return
	}
	switch {
	case c.cancelled:
		c.st.Status = statusCancelled
		c.st.Error = errCancelled
	case c.st.Error != "":
		c.st.Status = c.st.Error
	default:
		c.st.Status = statusComplete
	}
	c.st.InProgress = false
	c.cancelled = false
	c.stream = nil
}
