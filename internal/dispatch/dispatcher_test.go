package dispatch

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) task(name string, p Priority) Task {
	return TaskFunc{Prio: p, Fn: func() {
		r.mu.Lock()
		r.runs = append(r.runs, name)
		r.mu.Unlock()
	}}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.runs))
	copy(out, r.runs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestPriorityOrderWithFIFOWithinClass(t *testing.T) {
	rec := &recorder{}
	d := New(0, nil)
	defer d.Shutdown()

	d.Submit(rec.task("n1", Normal))
	d.Submit(rec.task("l1", Low))
	d.Submit(rec.task("h1", High))
	d.Submit(rec.task("n2", Normal))
	d.Submit(rec.task("h2", High))

	d.SetWorkerCount(1)
	waitFor(t, func() bool { return len(rec.snapshot()) == 5 })

	want := []string{"h1", "h2", "n1", "n2", "l1"}
	got := rec.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order %v, want %v", got, want)
		}
	}
}

func TestZeroWorkersPausesExecution(t *testing.T) {
	rec := &recorder{}
	d := New(0, nil)
	defer d.Shutdown()

	for i := 0; i < 10; i++ {
		d.Submit(rec.task("t", Normal))
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("expected no execution with zero workers, got %d", n)
	}
	if d.QueueLen() != 10 {
		t.Fatalf("expected 10 queued tasks, got %d", d.QueueLen())
	}

	d.SetWorkerCount(2)
	waitFor(t, func() bool { return len(rec.snapshot()) == 10 })
}

func TestResizePreservesQueuedTasks(t *testing.T) {
	rec := &recorder{}
	d := New(1, nil)
	defer d.Shutdown()

	for i := 0; i < 100; i++ {
		d.Submit(rec.task("t", Normal))
	}
	d.SetWorkerCount(4)
	waitFor(t, func() bool { return len(rec.snapshot()) == 100 })
	if got := len(rec.snapshot()); got != 100 {
		t.Fatalf("expected exactly 100 executions, got %d", got)
	}
	if d.WorkerCount() != 4 {
		t.Fatalf("expected 4 workers, got %d", d.WorkerCount())
	}
}

func TestShrinkJoinsAndRespawns(t *testing.T) {
	rec := &recorder{}
	d := New(4, nil)
	defer d.Shutdown()

	d.SetWorkerCount(1)
	if d.WorkerCount() != 1 {
		t.Fatalf("expected 1 worker after shrink, got %d", d.WorkerCount())
	}
	for i := 0; i < 20; i++ {
		d.Submit(rec.task("t", Normal))
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 20 })
}

func TestHighPriorityOvertakesQueuePosition(t *testing.T) {
	rec := &recorder{}
	d := New(1, nil)
	defer d.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	d.Submit(TaskFunc{Prio: Normal, Fn: func() {
		close(started)
		<-block
	}})
	<-started

	for i := 0; i < 10; i++ {
		d.Submit(rec.task("filter", Normal))
	}
	d.Submit(rec.task("eval", High))

	close(block)
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	if got := rec.snapshot()[0]; got != "eval" {
		t.Fatalf("expected high-priority task to run next, got %q", got)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 11 })
}

func TestShutdownCompletesInFlightAndDropsQueued(t *testing.T) {
	rec := &recorder{}
	d := New(1, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	inFlightDone := false
	var mu sync.Mutex
	d.Submit(TaskFunc{Prio: Normal, Fn: func() {
		close(started)
		<-block
		mu.Lock()
		inFlightDone = true
		mu.Unlock()
	}})
	<-started
	d.Submit(rec.task("queued", Normal))

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(block)
	<-done

	mu.Lock()
	if !inFlightDone {
		t.Fatalf("in-flight task should have completed")
	}
	mu.Unlock()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("queued task should not execute after shutdown, got %d runs", n)
	}

	d.Submit(rec.task("late", Normal))
	time.Sleep(10 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("submission after shutdown should be discarded, got %d runs", n)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	rec := &recorder{}
	d := New(1, nil)
	defer d.Shutdown()

	d.Submit(TaskFunc{Prio: Normal, Fn: func() { panic("boom") }})
	d.Submit(rec.task("after", Normal))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}
