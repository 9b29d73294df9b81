package dispatch

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
)

// Dispatcher is a thread-safe priority queue drained by a pool of worker
// goroutines. Within one priority class tasks dequeue in submission order;
// across classes a later-submitted higher-priority task overtakes queued
// work but never preempts a task already executing.
type Dispatcher struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    taskHeap
	seq      uint64
	draining bool // workers exit after their current task; reset by resize
	closed   bool // terminal; submissions are discarded

	workers int
	wg      sync.WaitGroup

	resizeMu sync.Mutex // serialises SetWorkerCount / Shutdown

	obs ports.Observability
}

// New creates a dispatcher with the given pool size. Workers start draining
// immediately.
func New(workers int, obs ports.Observability) *Dispatcher {
	if obs == nil {
		obs = ports.Nop{}
	}
	d := &Dispatcher{obs: obs}
	d.cond = sync.NewCond(&d.mu)
	d.SetWorkerCount(workers)
	return d
}

// Submit enqueues a task and wakes one waiting worker. After Shutdown the
// task is discarded silently; callers are expected to have stopped
// submitting.
func (d *Dispatcher) Submit(t Task) {
	if t == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.obs.IncCounter("cycler_tasks_dropped_total", 1)
		return
	}
	d.seq++
	heap.Push(&d.queue, &queuedTask{task: t, seq: d.seq})
	qlen := d.queue.Len()
	d.mu.Unlock()

	d.obs.IncCounter("cycler_tasks_submitted_total", 1)
	d.obs.SetGauge("cycler_queue_length", float64(qlen))
	d.cond.Signal()
}

// QueueLen reports the number of tasks waiting to run.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// WorkerCount reports the current pool size.
func (d *Dispatcher) WorkerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers
}

// SetWorkerCount resizes the pool. Growing spawns new workers. Shrinking
// stops the whole pool, joins it, and spawns n fresh workers; tasks queued
// during the transition are preserved. n == 0 pauses execution until a
// later resize.
func (d *Dispatcher) SetWorkerCount(n int) {
	if n < 0 {
		n = 0
	}
	d.resizeMu.Lock()
	defer d.resizeMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	cur := d.workers
	if n > cur {
		d.workers = n
		d.mu.Unlock()
		for i := cur; i < n; i++ {
			d.wg.Add(1)
			go d.run()
		}
		d.obs.SetGauge("cycler_worker_count", float64(n))
		return
	}
	if n == cur {
		d.mu.Unlock()
		return
	}

	d.draining = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()

	d.mu.Lock()
	d.draining = false
	d.workers = n
	d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.obs.SetGauge("cycler_worker_count", float64(n))
}

// Shutdown stops the pool. In-flight tasks complete; queued tasks are left
// unexecuted and later submissions are discarded.
func (d *Dispatcher) Shutdown() {
	d.resizeMu.Lock()
	defer d.resizeMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.draining = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()

	d.mu.Lock()
	d.workers = 0
	d.mu.Unlock()
	d.obs.SetGauge("cycler_worker_count", 0)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.draining {
			d.cond.Wait()
		}
		if d.draining {
			d.mu.Unlock()
			return
		}
		qt := heap.Pop(&d.queue).(*queuedTask)
		qlen := d.queue.Len()
		d.mu.Unlock()

		d.obs.SetGauge("cycler_queue_length", float64(qlen))
		d.execute(qt.task)
	}
}

func (d *Dispatcher) execute(t Task) {
	defer func() {
		if r := recover(); r != nil {
			d.obs.LogCritical("task_panic", nil,
				ports.Field{Key: "panic", Value: r},
				ports.Field{Key: "priority", Value: t.Priority().String()})
		}
	}()
	start := time.Now()
	t.Execute()
	d.obs.ObserveLatency("cycler_task_latency_seconds", time.Since(start).Seconds())
	d.obs.IncCounter("cycler_tasks_executed_total", 1)
}

// queuedTask pairs a task with its submission sequence so equal priorities
// dequeue FIFO.
type queuedTask struct {
	task Task
	seq  uint64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority() != h[j].task.Priority() {
		return h[i].task.Priority() < h[j].task.Priority()
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
