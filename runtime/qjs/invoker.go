package qjs

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yaoapp/kun/log"
)

// goroutineID the id of the calling goroutine, parsed from the runtime
// stack header "goroutine N [running]:"
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// LoopInvoker a channel-backed CallInvoker that owns the engine thread. Jobs
// run sequentially on a single locked OS thread, which keeps every engine
// touch single-threaded. Used by InstallForTests, a host application supplies
// its own invoker bound to its engine thread.
type LoopInvoker struct {
	jobs    chan func()
	done    chan struct{}
	loopGID atomic.Uint64
	stop    sync.Once
	stopped bool
	mutex   sync.Mutex
}

// NewLoopInvoker create and start a new loop invoker
func NewLoopInvoker(buffer int) *LoopInvoker {
	if buffer <= 0 {
		buffer = 64
	}
	invoker := &LoopInvoker{jobs: make(chan func(), buffer), done: make(chan struct{})}
	go invoker.loop()
	return invoker
}

func (invoker *LoopInvoker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	invoker.loopGID.Store(goroutineID())
	for job := range invoker.jobs {
		job()
	}
	close(invoker.done)
}

// onLoopThread reports whether the caller already runs on the loop goroutine
func (invoker *LoopInvoker) onLoopThread() bool {
	gid := invoker.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

func (invoker *LoopInvoker) enqueue(fn func()) bool {
	invoker.mutex.Lock()
	defer invoker.mutex.Unlock()
	if invoker.stopped {
		return false
	}
	invoker.jobs <- fn
	return true
}

// InvokeAsync queue a callback to run on the loop thread. Fire-and-forget,
// returns without waiting. Jobs sent after Stop are dropped with a warning.
func (invoker *LoopInvoker) InvokeAsync(fn func()) {
	if !invoker.enqueue(fn) {
		log.Warn("[qjs] the loop invoker is stopped, the job was dropped")
	}
}

// InvokeSync queue a callback and block until it completed. Calls from the
// loop thread itself run inline, queueing there and waiting would starve the
// queue forever.
func (invoker *LoopInvoker) InvokeSync(fn func()) {
	if invoker.onLoopThread() {
		fn()
		return
	}
	done := make(chan struct{})
	if !invoker.enqueue(func() {
		defer close(done)
		fn()
	}) {
		log.Warn("[qjs] the loop invoker is stopped, the job was dropped")
		return
	}
	<-done
}

// Stop drain the queue and release the loop thread. Idempotent.
func (invoker *LoopInvoker) Stop() {
	invoker.stop.Do(func() {
		invoker.mutex.Lock()
		invoker.stopped = true
		close(invoker.jobs)
		invoker.mutex.Unlock()
		<-invoker.done
	})
}
