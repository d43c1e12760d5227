package agentcore

import (
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker("test", 2, time.Hour, 1)
	if !b.Allow() {
		t.Fatal("expected closed breaker to allow")
	}
	b.Failure(&ErrHTTP{Status: 503})
	if b.State() != "closed" {
		t.Fatalf("state = %q, want closed after one transient failure", b.State())
	}
	b.Failure(&ErrHTTP{Status: 503})
	if b.State() != "open" {
		t.Fatalf("state = %q, want open after reaching threshold", b.State())
	}
	if b.Allow() {
		t.Error("expected open breaker to reject before cooldown elapses")
	}
}

func TestCircuitBreakerHalfOpenRequestsCap(t *testing.T) {
	b := NewCircuitBreaker("test", 1, 0, 3)
	b.Failure(&ErrHTTP{Status: 503}) // trips open; cooldown is 0 so it's immediately eligible

	admitted := 0
	for i := 0; i < 5; i++ {
		if b.Allow() {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("admitted = %d, want 3 (halfOpenRequests cap)", admitted)
	}
}

func TestCircuitBreakerHalfOpenRequestsDefaultsToOne(t *testing.T) {
	b := NewCircuitBreaker("test", 1, 0, 0)
	b.Failure(&ErrHTTP{Status: 503})

	admitted := 0
	for i := 0; i < 3; i++ {
		if b.Allow() {
			admitted++
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want 1 (default halfOpenRequests)", admitted)
	}
}

func TestCircuitBreakerSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker("test", 1, 0, 1)
	b.Failure(&ErrHTTP{Status: 503})
	if !b.Allow() {
		t.Fatal("expected half-open trial call to be admitted")
	}
	b.Success()
	if b.State() != "closed" {
		t.Fatalf("state = %q, want closed after a successful trial", b.State())
	}
}
