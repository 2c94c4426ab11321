package network

import (
	"runtime"
	"sync"

	"gpnet/conf"

	"github.com/sourcegraph/conc"
	"github.com/yinyihanbing/gutils/logs"
)

// TaskGroup runs dispatch work on a fixed set of workers. Tasks submitted
// with the same key run on the same worker, in submission order, so every
// connection keeps its inbound packet order. A group of size zero runs tasks
// on the caller's goroutine.
type TaskGroup struct {
	name    string
	workers []chan func()
	wg      conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTaskGroup starts size workers with a backlog of queueLen tasks each.
func NewTaskGroup(name string, size, queueLen int) *TaskGroup {
	g := &TaskGroup{name: name}
	if queueLen <= 0 {
		queueLen = 1
	}
	for i := 0; i < size; i++ {
		ch := make(chan func(), queueLen)
		g.workers = append(g.workers, ch)
		g.wg.Go(func() { g.work(ch) })
	}
	if size > 0 {
		logs.Debug("task group %v started with %v workers", name, size)
	}
	return g
}

// NewTaskGroupFromConfig sizes a group from the thread group settings of cfg.
func NewTaskGroupFromConfig(cfg conf.NetworkConfig) *TaskGroup {
	return NewTaskGroup(cfg.ThreadGroupName, cfg.ThreadGroupSize, cfg.ThreadGroupQueueLen)
}

// Name returns the group name.
func (g *TaskGroup) Name() string { return g.name }

// Size returns the number of workers.
func (g *TaskGroup) Size() int { return len(g.workers) }

// Submit runs task on the worker chosen by key. It blocks while that worker's
// backlog is full. Tasks submitted after Close run inline.
func (g *TaskGroup) Submit(key uint64, task func()) {
	if len(g.workers) == 0 {
		g.run(task)
		return
	}

	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		g.run(task)
		return
	}
	g.workers[key%uint64(len(g.workers))] <- task
	g.mu.RUnlock()
}

// Close stops accepting work, drains the backlogs and waits for the workers.
// It is safe to call more than once. A task running on the group must not
// call Close, since it would wait for its own worker.
func (g *TaskGroup) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, ch := range g.workers {
		close(ch)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *TaskGroup) work(ch chan func()) {
	for task := range ch {
		g.run(task)
	}
}

func (g *TaskGroup) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(g.name, r)
		}
	}()
	task()
}

// logPanic logs a recovered panic with the stack of the current goroutine.
func logPanic(where string, r any) {
	if conf.LenStackBuf > 0 {
		buf := make([]byte, conf.LenStackBuf)
		l := runtime.Stack(buf, false)
		logs.Error("%v: %v: %s", where, r, buf[:l])
	} else {
		logs.Error("%v: %v", where, r)
	}
}
