// Package state holds the armed/disarmed flag and the operator-supplied
// configuration document. The document is opaque to this package; the
// monitor reads whatever structure the operator last posted. Every read
// returns an independent deep copy so no caller can race the monitor's
// own copy.
package state

import (
	"sync"
	"time"

	"github.com/fallwatch/fallwatch/internal/model"
)

type Store struct {
	mu      sync.Mutex
	armed   bool
	armedAt int64
	armedBy string
	config  map[string]any
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Armed() model.ArmedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ArmedState{Armed: s.armed, ArmedAt: s.armedAt, ArmedBy: s.armedBy}
}

// SetArmed arms or disarms monitoring. Disarming clears ArmedAt and
// ArmedBy so they are non-zero iff armed.
func (s *Store) SetArmed(armed bool, armedBy string) model.ArmedState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = armed
	if armed {
		s.armedAt = s.now().Unix()
		s.armedBy = armedBy
	} else {
		s.armedAt = 0
		s.armedBy = ""
	}
	return model.ArmedState{Armed: s.armed, ArmedAt: s.armedAt, ArmedBy: s.armedBy}
}

func (s *Store) Config() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyMap(s.config)
}

// SetConfig replaces the document wholesale; last writer wins. Both the
// stored value and the returned value are copies of the input.
func (s *Store) SetConfig(doc map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = deepCopyMap(doc)
	return deepCopyMap(s.config)
}

// MonitorView reads the armed flag and a config copy under one lock
// acquisition. The monitor loop calls this every tick; the lock is never
// held across network activity.
func (s *Store) MonitorView() (bool, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed, deepCopyMap(s.config)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		// JSON scalars (string, float64, bool, nil) are immutable.
		return val
	}
}
