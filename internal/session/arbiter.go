// Package session arbitrates the single operator seat. All mutations and
// checks run under one mutex so concurrent start/takeover calls are
// totally ordered: at most one token is active at any instant.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fallwatch/fallwatch/internal/model"
)

// Denial codes returned by Require.
const (
	CodeMissingToken = "missing_token"
	CodeKicked       = "kicked"
	CodeOccupied     = "occupied"
	CodeInactive     = "inactive"
)

// Denial explains why a presented token may not drive the system. A
// kicked denial names the kicker so the displaced UI can say who took
// over; an occupied denial names the current operator.
type Denial struct {
	Code       string
	Message    string
	ActiveUser string
	KickedBy   string
}

// ClientInfo is recorded on the session for the audit trail.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type StartResult struct {
	Accepted   bool
	ActiveUser string
}

type TakeoverResult struct {
	PreviousUser string
}

type Arbiter struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	active   string
	now      func() time.Time
}

func NewArbiter() *Arbiter {
	return &Arbiter{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Start claims the seat if it is free or already held by this token
// (idempotent re-announce). If another token holds the seat, the claim
// is rejected and no state changes.
func (a *Arbiter) Start(name, token string, client ClientInfo) StartResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != "" && a.active != token {
		return StartResult{ActiveUser: a.activeNameLocked()}
	}
	a.activateLocked(name, token, client)
	return StartResult{Accepted: true}
}

// Takeover displaces whoever holds the seat. The displaced session is
// marked kicked with the kicker's name and time recorded. Taking over a
// seat you already hold degenerates to a refresh. Confirmation is the
// caller's concern; by the time Takeover runs the operator has confirmed.
func (a *Arbiter) Takeover(name, token string, client ClientInfo) TakeoverResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var previous string
	if a.active != "" && a.active != token {
		if prev, ok := a.sessions[a.active]; ok {
			previous = prev.Name
			prev.Status = model.SessionKicked
			prev.KickedBy = name
			prev.KickedAt = a.now().Unix()
		}
	}
	a.activateLocked(name, token, client)
	return TakeoverResult{PreviousUser: previous}
}

// Close releases the seat if this token holds it and marks the session
// closed if it exists. Closing an unknown token is a no-op.
func (a *Arbiter) Close(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == token {
		a.active = ""
	}
	if sess, ok := a.sessions[token]; ok {
		sess.Status = model.SessionClosed
		sess.EndedAt = a.now().Unix()
	}
}

// Require authenticates a protected operation. It returns nil when the
// presented token holds the seat, otherwise a Denial explaining why not.
// A kicked session always learns who kicked it, never a generic denial.
func (a *Arbiter) Require(token string) *Denial {
	if token == "" {
		return &Denial{Code: CodeMissingToken, Message: "Missing session token."}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != "" && a.active == token {
		return nil
	}
	if sess, ok := a.sessions[token]; ok && sess.Status == model.SessionKicked {
		kickedBy := sess.KickedBy
		if kickedBy == "" {
			kickedBy = "another operator"
		}
		return &Denial{
			Code:     CodeKicked,
			Message:  fmt.Sprintf("Session ended by %s.", kickedBy),
			KickedBy: kickedBy,
		}
	}
	if a.active != "" {
		return &Denial{
			Code:       CodeOccupied,
			Message:    "Another operator is active.",
			ActiveUser: a.activeNameLocked(),
		}
	}
	return &Denial{Code: CodeInactive, Message: "Session inactive."}
}

// Session returns a copy of the session for a token, if one exists.
func (a *Arbiter) Session(token string) (model.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions[token]
	if !ok {
		return model.Session{}, false
	}
	return *sess, true
}

func (a *Arbiter) activateLocked(name, token string, client ClientInfo) {
	sess, ok := a.sessions[token]
	if !ok {
		sess = &model.Session{ID: uuid.NewString(), Token: token}
		a.sessions[token] = sess
	}
	sess.Name = name
	sess.IP = client.IP
	sess.UserAgent = client.UserAgent
	sess.Status = model.SessionActive
	sess.StartedAt = a.now().Unix()
	sess.KickedBy = ""
	sess.KickedAt = 0
	sess.EndedAt = 0
	a.active = token
}

func (a *Arbiter) activeNameLocked() string {
	if sess, ok := a.sessions[a.active]; ok {
		return sess.Name
	}
	return ""
}
