package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/fallwatch/fallwatch/internal/model"
)

func TestStartClaimsFreeSeat(t *testing.T) {
	a := NewArbiter()

	result := a.Start("alice", "tok-a", ClientInfo{IP: "10.0.0.1", UserAgent: "ua"})
	if !result.Accepted {
		t.Fatalf("expected first start to be accepted")
	}
	if denial := a.Require("tok-a"); denial != nil {
		t.Fatalf("expected active token to pass, got denial %+v", denial)
	}

	sess, ok := a.Session("tok-a")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if sess.Status != model.SessionActive || sess.Name != "alice" || sess.IP != "10.0.0.1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ID == "" {
		t.Fatalf("expected session ID to be assigned")
	}
}

func TestStartIsIdempotentForSameToken(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})

	result := a.Start("alice", "tok-a", ClientInfo{})
	if !result.Accepted {
		t.Fatalf("re-announce with the same token must be accepted")
	}
}

func TestStartRejectsWhenOccupied(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})

	result := a.Start("bob", "tok-b", ClientInfo{})
	if result.Accepted {
		t.Fatalf("second operator must not be accepted")
	}
	if result.ActiveUser != "alice" {
		t.Fatalf("conflict should name the active operator, got %q", result.ActiveUser)
	}
	// The rejected start must not have mutated anything.
	if _, ok := a.Session("tok-b"); ok {
		t.Fatalf("rejected start must not create a session")
	}
	if denial := a.Require("tok-a"); denial != nil {
		t.Fatalf("active session must survive a rejected start, got %+v", denial)
	}
}

func TestTakeoverKicksPreviousOperator(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})

	result := a.Takeover("bob", "tok-b", ClientInfo{})
	if result.PreviousUser != "alice" {
		t.Fatalf("expected previous user alice, got %q", result.PreviousUser)
	}

	denial := a.Require("tok-a")
	if denial == nil {
		t.Fatalf("kicked token must be denied")
	}
	if denial.Code != CodeKicked {
		t.Fatalf("kicked session must get a kicked denial, got %q", denial.Code)
	}
	if denial.KickedBy != "bob" {
		t.Fatalf("kicked denial must name the kicker, got %q", denial.KickedBy)
	}

	if d := a.Require("tok-b"); d != nil {
		t.Fatalf("new seat holder must pass, got %+v", d)
	}
}

func TestTakeoverBySeatHolderIsRefresh(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})

	result := a.Takeover("alice", "tok-a", ClientInfo{})
	if result.PreviousUser != "" {
		t.Fatalf("self takeover must not report a displaced user, got %q", result.PreviousUser)
	}
	if d := a.Require("tok-a"); d != nil {
		t.Fatalf("seat holder must still pass, got %+v", d)
	}
}

func TestCloseReleasesSeat(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})
	a.Close("tok-a")

	sess, _ := a.Session("tok-a")
	if sess.Status != model.SessionClosed {
		t.Fatalf("expected closed status, got %q", sess.Status)
	}
	if sess.EndedAt == 0 {
		t.Fatalf("expected EndedAt to be recorded")
	}

	denial := a.Require("tok-a")
	if denial == nil || denial.Code != CodeInactive {
		t.Fatalf("closed token must get an inactive denial, got %+v", denial)
	}

	// Seat is free again.
	if result := a.Start("bob", "tok-b", ClientInfo{}); !result.Accepted {
		t.Fatalf("seat must be claimable after close")
	}
}

func TestRequireDenials(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-a", ClientInfo{})

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing token", "", CodeMissingToken},
		{"unknown token while occupied", "tok-x", CodeOccupied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			denial := a.Require(tc.token)
			if denial == nil || denial.Code != tc.code {
				t.Fatalf("expected code %q, got %+v", tc.code, denial)
			}
		})
	}

	if denial := a.Require("tok-x"); denial.ActiveUser != "alice" {
		t.Fatalf("occupied denial must name the active operator, got %+v", denial)
	}

	a.Close("tok-a")
	if denial := a.Require("tok-x"); denial == nil || denial.Code != CodeInactive {
		t.Fatalf("unknown token on a free seat must be inactive, got %+v", denial)
	}
}

func TestConcurrentStartsAdmitExactlyOne(t *testing.T) {
	a := NewArbiter()

	const contenders = 32
	var wg sync.WaitGroup
	results := make([]StartResult, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Start(fmt.Sprintf("op-%d", i), fmt.Sprintf("tok-%d", i), ClientInfo{})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, result := range results {
		if result.Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("exactly one contender must win the seat, got %d", accepted)
	}
}

func TestConcurrentTakeoversLeaveSingleActive(t *testing.T) {
	a := NewArbiter()
	a.Start("alice", "tok-0", ClientInfo{})

	const contenders = 16
	var wg sync.WaitGroup
	for i := 1; i <= contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Takeover(fmt.Sprintf("op-%d", i), fmt.Sprintf("tok-%d", i), ClientInfo{})
		}(i)
	}
	wg.Wait()

	active := 0
	for i := 0; i <= contenders; i++ {
		if a.Require(fmt.Sprintf("tok-%d", i)) == nil {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active token after contested takeovers, got %d", active)
	}
}
