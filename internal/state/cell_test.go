package state

import (
	"errors"
	"sync"
	"testing"
)

func newTestCell(fail, recover int) *Cell {
	return New("http://primary.local", "http://backup.local", fail, recover)
}

func TestHealthySuccessesStayOnPrimary(t *testing.T) {
	c := newTestCell(3, 2)
	if ev := c.RecordProbeSuccess(); ev != nil {
		t.Fatalf("expected no event, got %+v", ev)
	}
	snap := c.ReadSnapshot()
	if snap.OnBackup {
		t.Fatal("expected to remain on primary")
	}
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures reset to 0, got %d", snap.ConsecutiveFailures)
	}
}

func TestFailoverAtExactThreshold(t *testing.T) {
	c := newTestCell(3, 2)

	for i := 0; i < 2; i++ {
		if ev := c.RecordProbeFailure(errors.New("boom")); ev != nil {
			t.Fatalf("unexpected event before threshold at iteration %d: %+v", i, ev)
		}
	}

	ev := c.RecordProbeFailure(errors.New("boom"))
	if ev == nil {
		t.Fatal("expected a failover event at the threshold-th failure")
	}
	if ev.Kind != Failover {
		t.Fatalf("expected Failover, got %v", ev.Kind)
	}
	if ev.FailCount != 3 {
		t.Fatalf("expected fail_count 3, got %d", ev.FailCount)
	}

	snap := c.ReadSnapshot()
	if !snap.OnBackup {
		t.Fatal("expected on_backup=true after failover")
	}
	if snap.ConsecutiveFailures != 0 || snap.ConsecutiveSuccesses != 0 {
		t.Fatalf("expected both counters reset after transition, got %+v", snap)
	}
}

func TestFailoverProducesExactlyOneEvent(t *testing.T) {
	c := newTestCell(3, 2)
	events := 0
	for i := 0; i < 3; i++ {
		if c.RecordProbeFailure(errors.New("x")) != nil {
			events++
		}
	}
	if events != 1 {
		t.Fatalf("expected exactly one failover event for F consecutive failures, got %d", events)
	}
}

func TestRecoveryAtExactThreshold(t *testing.T) {
	c := newTestCell(3, 2)
	for i := 0; i < 3; i++ {
		c.RecordProbeFailure(errors.New("down"))
	}
	if !c.ReadSnapshot().OnBackup {
		t.Fatal("setup failed: expected on_backup=true")
	}

	if ev := c.RecordProbeSuccess(); ev != nil {
		t.Fatalf("expected no event before recover_threshold, got %+v", ev)
	}
	ev := c.RecordProbeSuccess()
	if ev == nil {
		t.Fatal("expected a recovery event at the threshold-th success")
	}
	if ev.Kind != Recovery {
		t.Fatalf("expected Recovery, got %v", ev.Kind)
	}

	snap := c.ReadSnapshot()
	if snap.OnBackup {
		t.Fatal("expected on_backup=false after recovery")
	}
}

func TestFailThresholdOneTransitionsImmediately(t *testing.T) {
	c := newTestCell(1, 1)
	ev := c.RecordProbeFailure(errors.New("down"))
	if ev == nil || ev.Kind != Failover {
		t.Fatalf("expected immediate failover with fail_threshold=1, got %+v", ev)
	}
}

func TestRecoverThresholdOneTransitionsImmediately(t *testing.T) {
	c := newTestCell(1, 1)
	c.RecordProbeFailure(errors.New("down"))
	ev := c.RecordProbeSuccess()
	if ev == nil || ev.Kind != Recovery {
		t.Fatalf("expected immediate recovery with recover_threshold=1, got %+v", ev)
	}
}

func TestIdempotentCounterResetOnHealthySuccess(t *testing.T) {
	a := newTestCell(3, 2)
	a.RecordProbeSuccess()

	b := newTestCell(3, 2)
	b.RecordProbeSuccess()
	b.RecordProbeSuccess()

	snapA, snapB := a.ReadSnapshot(), b.ReadSnapshot()
	if snapA != snapB {
		t.Fatalf("expected idempotent reset, got %+v vs %+v", snapA, snapB)
	}
}

func TestAntiFlapAlternatingOutcomesNeverTransitions(t *testing.T) {
	c := newTestCell(3, 2)
	for i := 0; i < 8; i++ {
		var ev *TransitionEvent
		if i%2 == 0 {
			ev = c.RecordProbeSuccess()
		} else {
			ev = c.RecordProbeFailure(errors.New("blip"))
		}
		if ev != nil {
			t.Fatalf("unexpected transition on alternating outcomes at iteration %d: %+v", i, ev)
		}
	}
	if c.ReadSnapshot().OnBackup {
		t.Fatal("expected to remain on primary throughout alternation")
	}
}

func TestAtMostOneCounterNonzero(t *testing.T) {
	c := newTestCell(5, 5)
	c.RecordProbeFailure(errors.New("x"))
	c.RecordProbeFailure(errors.New("x"))

	snap := c.ReadSnapshot()
	if snap.ConsecutiveFailures != 0 && snap.ConsecutiveSuccesses != 0 {
		t.Fatalf("expected at most one nonzero counter, got %+v", snap)
	}
}

func TestLastProbeErrorClearedOnSuccessWhilePrimary(t *testing.T) {
	c := newTestCell(3, 2)
	c.RecordProbeFailure(errors.New("dns timeout"))
	c.RecordProbeSuccess()

	if c.ReadSnapshot().LastProbeError != "" {
		t.Fatal("expected last_probe_error cleared after a success while on primary")
	}
}

func TestSelectedURLTracksOnBackup(t *testing.T) {
	c := newTestCell(1, 1)
	if c.SelectedURL() != "http://primary.local" {
		t.Fatal("expected primary selected initially")
	}
	c.RecordProbeFailure(errors.New("down"))
	if c.SelectedURL() != "http://backup.local" {
		t.Fatal("expected backup selected after failover")
	}
}

func TestConcurrentReadersDoNotRace(t *testing.T) {
	c := newTestCell(3, 2)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.ReadSnapshot()
				_ = c.SelectedURL()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				c.RecordProbeSuccess()
			} else {
				c.RecordProbeFailure(errors.New("x"))
			}
		}
	}()

	wg.Wait()
}
