package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gallerymind/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// scriptedReader serves each record's states in order, repeating the last one
// once the script runs out, and counts queries per record.
type scriptedReader struct {
	mu      sync.Mutex
	scripts map[string][]*model.AnalysisRecord
	queries map[string]int
}

func newScriptedReader() *scriptedReader {
	return &scriptedReader{
		scripts: make(map[string][]*model.AnalysisRecord),
		queries: make(map[string]int),
	}
}

func (r *scriptedReader) set(id string, states ...*model.AnalysisRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[id] = states
}

func (r *scriptedReader) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[id]
}

func (r *scriptedReader) Status(_ context.Context, id string) (*model.AnalysisRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[id]++
	states := r.scripts[id]
	if len(states) == 0 {
		return nil, fmt.Errorf("record %s unknown", id)
	}
	next := states[0]
	if len(states) > 1 {
		r.scripts[id] = states[1:]
	}
	return next.Clone(), nil
}

func st(id string, status model.Status) *model.AnalysisRecord {
	rec := &model.AnalysisRecord{ID: id, OwnerID: "alice", Status: status}
	if status.Terminal() {
		rec.Analysis = model.Fallback()
	}
	return rec
}

func startPoller(t *testing.T, p *Poller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
}

func waitLocalStatus(t *testing.T, p *Poller, id string, want model.Status) *model.AnalysisRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := p.Get(id); ok && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, ok := p.Get(id)
	t.Fatalf("record %s never reached %s locally (tracked=%v, last=%+v)", id, want, ok, rec)
	return nil
}

func TestPollerPicksUpRecordsTrackedAfterStart(t *testing.T) {
	reader := newScriptedReader()
	reader.set("img-1", st("img-1", model.StatusCompleted))

	p := New(reader, 10*time.Millisecond, nil, testLogger())
	startPoller(t, p)

	// Let a few ticks pass before the record exists locally; a watch set
	// frozen at loop start would never see it.
	time.Sleep(30 * time.Millisecond)
	p.Track("img-1")

	waitLocalStatus(t, p, "img-1", model.StatusCompleted)
}

func TestPollerReachesTerminalWithinBoundedCycles(t *testing.T) {
	reader := newScriptedReader()
	reader.set("img-1",
		st("img-1", model.StatusPending),
		st("img-1", model.StatusProcessing),
		st("img-1", model.StatusCompleted),
	)

	p := New(reader, 5*time.Millisecond, nil, testLogger())
	p.Track("img-1")
	startPoller(t, p)

	waitLocalStatus(t, p, "img-1", model.StatusCompleted)
	if got := reader.count("img-1"); got > 10 {
		t.Fatalf("took %d poll cycles to converge", got)
	}
}

func TestPollerStopsQueryingTerminalRecords(t *testing.T) {
	reader := newScriptedReader()
	reader.set("img-done", st("img-done", model.StatusCompleted))
	reader.set("img-busy", st("img-busy", model.StatusProcessing))

	p := New(reader, 5*time.Millisecond, nil, testLogger())
	p.Track("img-done")
	p.Track("img-busy")
	startPoller(t, p)

	waitLocalStatus(t, p, "img-done", model.StatusCompleted)
	settled := reader.count("img-done")

	// The still-processing record keeps the loop visibly ticking while the
	// terminal one must no longer be queried.
	busyBefore := reader.count("img-busy")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && reader.count("img-busy") < busyBefore+3 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := reader.count("img-done"); got != settled {
		t.Fatalf("terminal record queried %d more times", got-settled)
	}
}

func TestPollerMergeIsForwardOnly(t *testing.T) {
	p := New(newScriptedReader(), time.Hour, nil, testLogger())
	p.Track("img-1")

	p.Merge(st("img-1", model.StatusProcessing))
	p.Merge(st("img-1", model.StatusPending))
	if rec, _ := p.Get("img-1"); rec.Status != model.StatusProcessing {
		t.Fatalf("merge moved record backward to %s", rec.Status)
	}

	p.Merge(st("img-1", model.StatusCompleted))
	p.Merge(st("img-1", model.StatusFailed))
	if rec, _ := p.Get("img-1"); rec.Status != model.StatusCompleted {
		t.Fatalf("terminal record changed to %s", rec.Status)
	}

	// Repeat of the current status is a silent no-op.
	p.Merge(st("img-1", model.StatusCompleted))
	if rec, _ := p.Get("img-1"); rec.Status != model.StatusCompleted {
		t.Fatal("idempotent re-merge altered the record")
	}
}

func TestPollerMergeIgnoresUntracked(t *testing.T) {
	p := New(newScriptedReader(), time.Hour, nil, testLogger())
	p.Merge(st("img-unknown", model.StatusCompleted))
	if _, ok := p.Get("img-unknown"); ok {
		t.Fatal("merge created an untracked record")
	}
}

func TestPollerConcurrentMergeFiresCallbackOnce(t *testing.T) {
	var updates atomic.Int32
	p := New(newScriptedReader(), time.Hour, func(rec *model.AnalysisRecord) {
		if rec.Status == model.StatusCompleted {
			updates.Add(1)
		}
	}, testLogger())
	p.Track("img-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Merge(st("img-1", model.StatusCompleted))
		}()
	}
	wg.Wait()

	if got := updates.Load(); got != 1 {
		t.Fatalf("completed callback fired %d times, want 1", got)
	}
}

func TestPollerCallbackMayReenter(t *testing.T) {
	done := make(chan struct{})
	var p *Poller
	p = New(newScriptedReader(), time.Hour, func(rec *model.AnalysisRecord) {
		// Re-entering the poller from the callback must not deadlock.
		if _, ok := p.Get(rec.ID); !ok {
			t.Error("record invisible from update callback")
		}
		close(done)
	}, testLogger())
	p.Track("img-1")
	p.Merge(st("img-1", model.StatusProcessing))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update callback never completed")
	}
}

func TestPollerSnapshotIsACopy(t *testing.T) {
	p := New(newScriptedReader(), time.Hour, nil, testLogger())
	p.Track("img-1")
	p.Merge(st("img-1", model.StatusCompleted))

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d records, want 1", len(snap))
	}
	snap[0].Status = model.StatusPending
	snap[0].Tags[0] = "mutated"

	rec, _ := p.Get("img-1")
	if rec.Status != model.StatusCompleted || rec.Tags[0] == "mutated" {
		t.Fatalf("snapshot mutation leaked into poller state: %+v", rec)
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	reader := newScriptedReader()
	reader.set("img-1", st("img-1", model.StatusProcessing))

	p := New(reader, 5*time.Millisecond, nil, testLogger())
	p.Track("img-1")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && reader.count("img-1") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}

	settled := reader.count("img-1")
	time.Sleep(50 * time.Millisecond)
	if got := reader.count("img-1"); got != settled {
		t.Fatalf("poller queried %d more times after stop", got-settled)
	}
}

func TestAPIReaderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/images/img-1/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st("img-1", model.StatusCompleted))
	}))
	defer srv.Close()

	reader := NewAPIReader(srv.URL + "/")
	rec, err := reader.Status(context.Background(), "img-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.ID != "img-1" || rec.Status != model.StatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := reader.Status(context.Background(), "img-2"); err == nil {
		t.Fatal("missing record did not error")
	}
}
