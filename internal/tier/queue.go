package tier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/tieredvm/corejit/internal/codecache"
)

// compileTask mirrors original_source's CompileTask: which function, which
// tier to compile it to, a priority (higher runs first), and whether this
// is an OSR compile targeting one loop header rather than the whole
// function's normal entry.
type compileTask struct {
	funcID     uint32
	targetTier Tier
	priority   int
	isOSR      bool
	osrOffset  uint32
	enqueued   time.Time
}

// taskHeap is a max-heap by priority, ties broken by earliest enqueue time
// (FIFO among equal-priority tasks) -- container/heap's sort.Interface
// wrapper around a plain slice, the idiomatic stdlib priority queue; no
// pack repo or library in the examples offers one, and hand-rolling over
// five one-line methods is the documented stdlib exception (see DESIGN.md).
type taskHeap []*compileTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].enqueued.Before(h[j].enqueued)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*compileTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// taskQueue is the compile worker pool's shared work queue: a
// condition-variable-guarded heap, woken on Push and on Close.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	h      taskHeap
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues t, dropping it silently once the queue already holds
// maxSize tasks: a dropped compile is never a correctness problem, only a
// missed optimization, since the function stays safely on its current
// tier (spec.md §8 invariant 7).
func (q *taskQueue) push(t *compileTask, maxSize int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.h) >= maxSize {
		return
	}
	heap.Push(&q.h, t)
	q.cond.Signal()
}

// pop blocks until a task is available or the queue is closed, in which
// case it returns (nil, false).
func (q *taskQueue) pop() (*compileTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*compileTask), true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// startWorkers launches Config.Workers goroutines pulling from the task
// queue, each running a compile synchronously to completion -- spec.md
// §4.2's "main-thread compilation always available as fallback" is
// satisfied by CompileSync bypassing this queue entirely when a caller
// needs a tier's artifact immediately (e.g. a deopt that must not return
// to the interpreter empty-handed).
func (c *Controller) startWorkers() {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
}

func (c *Controller) workerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closing:
			return
		default:
		}
		t, ok := c.queue.pop()
		if !ok {
			return
		}
		c.runTask(t)
	}
}

func (c *Controller) runTask(t *compileTask) {
	fs := c.state(t.funcID)
	fs.mu.Lock()
	fs.tiers[t.targetTier].state = StateCompiling
	fs.mu.Unlock()

	if t.isOSR {
		c.compileOSR(t.funcID, t.targetTier, t.osrOffset)
		return
	}

	if _, err := c.compileFunction(t.funcID, t.targetTier); err != nil {
		fs.mu.Lock()
		fs.tiers[t.targetTier].state = StateFailed
		fs.mu.Unlock()
	}
}

// enqueueCompile queues a normal (non-OSR) compile of funcID to
// targetTier, skipping it if the function is already compiled at or above
// targetTier or already has one queued/in flight for it.
func (c *Controller) enqueueCompile(funcID uint32, targetTier Tier, priority int) {
	fs := c.state(funcID)

	fs.mu.Lock()
	if fs.tier >= targetTier || fs.tiers[targetTier].state == StateQueued || fs.tiers[targetTier].state == StateCompiling {
		fs.mu.Unlock()
		return
	}
	fs.tiers[targetTier].state = StateQueued
	fs.mu.Unlock()

	c.queue.push(&compileTask{
		funcID:     funcID,
		targetTier: targetTier,
		priority:   priority,
		enqueued:   time.Now(),
	}, c.cfg.MaxQueueSize)
}

// enqueueOSR queues an on-stack-replacement compile targeting one loop
// header's bytecode offset, at a priority above any pending normal compile
// (OSR exists precisely because the interpreter is stuck burning cycles in
// a hot loop right now, so it always jumps the line).
func (c *Controller) enqueueOSR(funcID uint32, targetTier Tier, offset uint32) {
	const osrPriority = 1 << 30
	c.queue.push(&compileTask{
		funcID:     funcID,
		targetTier: targetTier,
		priority:   osrPriority,
		isOSR:      true,
		osrOffset:  offset,
		enqueued:   time.Now(),
	}, c.cfg.MaxQueueSize)
}

// CompileSync compiles funcID to targetTier on the calling goroutine,
// bypassing the worker pool entirely -- the "main-thread compilation
// always available as fallback" path spec.md §4.2 calls for.
func (c *Controller) CompileSync(funcID uint32, targetTier Tier) (*codecache.Artifact, error) {
	return c.compileFunction(funcID, targetTier)
}
