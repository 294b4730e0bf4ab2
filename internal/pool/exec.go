// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package pool

import (
	"container/heap"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// Result is the outcome of one ADB command execution.
type Result struct {
	OK     bool
	Stdout string
	Stderr string
	Err    error
}

// job is one queued async command, ordered by Priority then FIFO.
type job struct {
	cmd      model.ADBCommand
	seq      int64
	resultCh chan Result
}

// jobHeap orders queued jobs by descending Priority, then ascending
// sequence number (FIFO within a priority band).
type jobHeap []job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority > h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// queue is the shared priority queue the worker pool drains; it
// replaces the teacher's absence of any queueing primitive with the
// original's `queue.PriorityQueue` equivalent.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   jobHeap
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(j job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.heap, j)
	q.cond.Signal()
}

// pop blocks until a job is available or the queue is closed, in
// which case ok is false.
func (q *queue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.heap.Len() == 0 {
		return job{}, false
	}
	j := heap.Pop(&q.heap).(job)
	return j, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// ExecuteSync runs one ADB command against its target device and
// updates the device's counters and health (spec §4.4
// `execute_command_sync`).
func (p *Pool) ExecuteSync(ctx context.Context, correlationID string, cmd model.ADBCommand) Result {
	ctx, span := telemetry.StartSpan(ctx, correlationID, "pool.ExecuteSync")
	defer span.End()

	p.mu.RLock()
	dev, ok := p.devices[cmd.DeviceID]
	p.mu.RUnlock()
	if !ok {
		err := errdefs.NotFound(fmt.Errorf("device %q not in pool", cmd.DeviceID))
		telemetry.RecordSpanError(span, err)
		return Result{Err: err}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append([]string{"-s", cmd.DeviceID}, cmd.Argv...)
	c := exec.CommandContext(cctx, dev.ADBPath, argv...)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	ok2 := err == nil

	p.mu.Lock()
	dev.Connections++
	dev.LastSeen = time.Now()
	if ok2 {
		dev.Successes++
	} else {
		dev.Errors++
	}
	dev.Health = model.HealthFromSuccessRate(dev.SuccessRate())
	p.mu.Unlock()

	p.stats.mu.Lock()
	p.stats.totalCommands++
	if ok2 {
		p.stats.successfulCommands++
	} else {
		p.stats.failedCommands++
	}
	p.stats.mu.Unlock()

	if !ok2 {
		telemetry.RecordSpanError(span, err)
		return Result{OK: false, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return Result{OK: true, Stdout: stdout.String(), Stderr: stderr.String()}
}

// RunADB implements task.ADBExecutor: it runs one adb shell command
// synchronously against deviceID through ExecuteSync, so task modules
// (input, app lifecycle, image click, OCR region) can act on a device
// without importing this package directly.
func (p *Pool) RunADB(ctx context.Context, deviceID string, argv []string, timeoutMS int) (bool, string, string) {
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	result := p.ExecuteSync(ctx, "", model.ADBCommand{Argv: argv, DeviceID: deviceID, Timeout: timeout, RetryCount: 1})
	return result.OK, result.Stdout, result.Stderr
}

// RunADBBinary runs an adb command whose stdout carries binary data
// (e.g. `exec-out screencap -p`) and returns the raw bytes, bypassing
// ExecuteSync's text capture.
func (p *Pool) RunADBBinary(ctx context.Context, deviceID string, argv []string, timeoutMS int) (bool, []byte) {
	p.mu.RLock()
	dev, ok := p.devices[deviceID]
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}

	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgv := append([]string{"-s", deviceID}, argv...)
	out, err := exec.CommandContext(cctx, dev.ADBPath, fullArgv...).Output()
	if err != nil {
		return false, nil
	}
	return true, out
}

var jobSeq struct {
	mu sync.Mutex
	n  int64
}

func nextSeq() int64 {
	jobSeq.mu.Lock()
	defer jobSeq.mu.Unlock()
	jobSeq.n++
	return jobSeq.n
}

// ExecuteAsync enqueues a command onto the priority queue and returns
// a channel that receives exactly one Result once a worker drains it
// (spec §4.4 `execute_command_async`, priority + retry semantics in
// `_execute_with_retry`).
func (p *Pool) ExecuteAsync(cmd model.ADBCommand) <-chan Result {
	resultCh := make(chan Result, 1)
	p.jobQueue.push(job{cmd: cmd, seq: nextSeq(), resultCh: resultCh})
	return resultCh
}

func (p *Pool) startWorkers() {
	p.wgInit.Do(func() {
		p.jobQueue = newQueue()
		for i := 0; i < p.WorkerPoolSize; i++ {
			p.workers.Add(1)
			go p.workerLoop()
		}
	})
}

func (p *Pool) workerLoop() {
	defer p.workers.Done()
	for {
		j, ok := p.jobQueue.pop()
		if !ok {
			return
		}
		result := p.executeWithRetry(context.Background(), "", j.cmd)
		j.resultCh <- result
		close(j.resultCh)
	}
}

// executeWithRetry makes up to cmd.RetryCount attempts in total (at
// least one), waiting 0.5s * 2^attempt between failed attempts,
// matching `_execute_with_retry`.
func (p *Pool) executeWithRetry(ctx context.Context, correlationID string, cmd model.ADBCommand) Result {
	retries := cmd.RetryCount
	if retries <= 0 {
		retries = 1
	}
	var last Result
	for attempt := 0; attempt < retries; attempt++ {
		last = p.ExecuteSync(ctx, correlationID, cmd)
		if last.OK {
			if cmd.Callback != nil {
				cmd.Callback(true, last.Stdout, last.Stderr)
			}
			return last
		}
		if attempt < retries-1 {
			wait := time.Duration(float64(500*time.Millisecond) * pow2(attempt))
			time.Sleep(wait)
		}
	}
	if cmd.Callback != nil {
		cmd.Callback(false, "", last.Stderr)
	}
	return last
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}
