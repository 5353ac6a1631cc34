package engine

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReportAppendsInOrder(t *testing.T) {
	r := NewReport()
	a := NewAction("a", nil)
	b := NewAction("b", nil)

	r.ReportActionRunning(a)
	r.ReportActionSucceed(a, "done")
	r.ReportActionRunning(b)
	r.ReportActionError(b, errors.New("boom"))

	events := r.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	want := []struct {
		status EventStatus
		action string
	}{
		{EventRunning, "a"},
		{EventSucceeded, "a"},
		{EventRunning, "b"},
		{EventErrored, "b"},
	}
	for i, w := range want {
		if events[i].Status != w.status || events[i].Action != w.action {
			t.Errorf("event %d = %s(%s), want %s(%s)", i, events[i].Status, events[i].Action, w.status, w.action)
		}
		if events[i].Seq != i+1 {
			t.Errorf("event %d has seq %d", i, events[i].Seq)
		}
	}

	if events[1].Output != "done" {
		t.Errorf("expected output 'done', got %q", events[1].Output)
	}
	if events[3].Error != "boom" || events[3].Err == nil {
		t.Errorf("expected recorded error, got %+v", events[3])
	}
}

func TestReportEventsIsACopy(t *testing.T) {
	r := NewReport()
	r.ReportActionRunning(NewAction("a", nil))

	events := r.Events()
	events[0].Action = "mutated"

	if got := r.Events()[0].Action; got != "a" {
		t.Errorf("report must not be mutated through Events, got %q", got)
	}
}

func TestReportLastAndSummary(t *testing.T) {
	r := NewReport()
	if _, ok := r.Last(); ok {
		t.Error("empty report has no last event")
	}

	a := NewAction("a", nil)
	r.ReportActionRunning(a)
	r.ReportActionSkipped(a)
	r.ReportActionRunning(a)
	r.ReportActionSucceed(a, "")
	r.ReportActionRunning(a)
	r.ReportActionError(a, nil)

	last, ok := r.Last()
	if !ok || last.Status != EventErrored {
		t.Errorf("unexpected last event %+v", last)
	}

	s := r.Summary()
	if s != (Summary{Total: 3, Skipped: 1, Succeeded: 1, Errored: 1}) {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestReportTimestamps(t *testing.T) {
	r := NewReport()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.ReportActionRunning(NewAction("a", nil))

	if got := r.Events()[0].Timestamp; !got.Equal(fixed) {
		t.Errorf("expected %v, got %v", fixed, got)
	}
}

func TestReportConcurrentReader(t *testing.T) {
	r := NewReport()
	a := NewAction("a", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.ReportActionRunning(a)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			events := r.Events()
			for j, e := range events {
				if e.Seq != j+1 {
					t.Errorf("seq gap at %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()

	if r.Len() != 200 {
		t.Errorf("expected 200 events, got %d", r.Len())
	}
}

func TestEventStatusGlyph(t *testing.T) {
	for status, glyph := range map[EventStatus]string{
		EventRunning:   "➤",
		EventSkipped:   "⇣",
		EventSucceeded: "✔",
		EventErrored:   "✘",
	} {
		if got := status.Glyph(); got != glyph {
			t.Errorf("%s.Glyph() = %s, want %s", status, got, glyph)
		}
	}
	if EventRunning.IsTerminal() || !EventErrored.IsTerminal() {
		t.Error("unexpected terminal classification")
	}
}
