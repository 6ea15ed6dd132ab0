package invocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "invocations_test.db")
	s, err := NewStore(dbPath, quiet())
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_BySession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	recs := []Record{
		{SessionID: "s1", CallID: "c1", Name: "abacus", Input: `{"expression":"2+2"}`, Output: `{"result":4}`,
			Status: StatusSuccess, StartTime: base, EndTime: base.Add(3 * time.Millisecond), DurationMs: 3},
		{SessionID: "s1", CallID: "c2", Name: "seeker", Input: `{"query":"x"}`,
			Status: StatusFailure, StartTime: base.Add(time.Second), DurationMs: 40, ErrorMessage: "quota"},
		{SessionID: "s2", Name: "abacus", Input: `{}`, Status: StatusSuccess, StartTime: base},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.BySession(ctx, "s1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("BySession returned %d records, want 2", len(got))
	}
	if got[0].Name != "abacus" || got[1].Name != "seeker" {
		t.Errorf("order = %s, %s", got[0].Name, got[1].Name)
	}
	if got[0].ID == "" {
		t.Error("ID not generated")
	}
	if got[0].Output != `{"result":4}` || got[0].CallID != "c1" {
		t.Errorf("record = %+v", got[0])
	}
	if got[1].ErrorMessage != "quota" || got[1].Output != "" {
		t.Errorf("error record = %+v", got[1])
	}
	if !got[0].StartTime.Equal(base) {
		t.Errorf("StartTime = %v, want %v", got[0].StartTime, base)
	}
	if !got[1].EndTime.Equal(got[1].StartTime) {
		t.Error("zero EndTime should default to StartTime")
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, st := range []string{StatusSuccess, StatusFailure, StatusSuccess} {
		if err := s.Record(ctx, Record{SessionID: "s", Name: "seeker", Input: "{}", Status: st, StartTime: now, DurationMs: int64(10 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Record(ctx, Record{SessionID: "s", Name: "abacus", Input: "{}", Status: StatusSuccess, StartTime: now, DurationMs: 1}); err != nil {
		t.Fatal(err)
	}
	// Outside the window.
	if err := s.Record(ctx, Record{SessionID: "s", Name: "abacus", Input: "{}", Status: StatusSuccess, StartTime: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Stats returned %d rows, want 2", len(stats))
	}
	seeker := stats[0]
	if seeker.Name != "seeker" || seeker.Count != 3 || seeker.Errors != 1 || seeker.MaxDurationMs != 30 || seeker.AvgDurationMs != 20 {
		t.Errorf("seeker stats = %+v", seeker)
	}
	if stats[1].Name != "abacus" || stats[1].Count != 1 {
		t.Errorf("abacus stats = %+v", stats[1])
	}
}

func TestRecordFinish(t *testing.T) {
	r := Record{StartTime: time.Now().Add(-50 * time.Millisecond)}
	r.Finish(nil)
	if r.Status != "SUCCESS" || r.DurationMs < 50 {
		t.Errorf("Finish(nil) = %+v", r)
	}

	r = Record{StartTime: time.Now()}
	r.Finish(errors.New("boom"))
	if r.Status != "FAILURE" || r.ErrorMessage != "boom" {
		t.Errorf("Finish(err) = %+v", r)
	}
}

func TestRecord_RejectsUnknownStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, status := range []string{"", "error", "success"} {
		err := s.Record(ctx, Record{SessionID: "s", Name: "abacus", Input: "{}", Status: status})
		if err == nil {
			t.Errorf("Record(status %q) succeeded, want constraint error", status)
		}
	}
	recs, err := s.BySession(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("stored %d records with invalid status", len(recs))
	}
}

func TestJSON(t *testing.T) {
	if got := JSON(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Errorf("JSON = %s", got)
	}
	if got := JSON(make(chan int)); got == "" || got[0] != '"' {
		t.Errorf("JSON(chan) = %s, want a JSON string", got)
	}
}

func TestAsyncSink(t *testing.T) {
	mem := &Memory{}
	a := NewAsyncSink(mem, 16, quiet())
	for i := 0; i < 10; i++ {
		a.Log(context.Background(), Record{Name: "abacus"})
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(mem.Records()); n != 10 {
		t.Errorf("drained %d records, want 10", n)
	}

	// Logging after Close is a silent no-op.
	a.Log(context.Background(), Record{Name: "late"})
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if n := len(mem.Records()); n != 10 {
		t.Errorf("record accepted after Close")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Log(context.Context, Record) { <-b.release }

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	b := blockingSink{release: make(chan struct{})}
	a := NewAsyncSink(b, 1, quiet())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			a.Log(context.Background(), Record{Name: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	close(b.release)
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMultiSink(t *testing.T) {
	m1, m2 := &Memory{}, &Memory{}
	MultiSink{m1, nil, Nop{}, m2}.Log(context.Background(), Record{Name: "get"})
	if len(m1.Records()) != 1 || len(m2.Records()) != 1 {
		t.Error("MultiSink did not fan out")
	}
}
