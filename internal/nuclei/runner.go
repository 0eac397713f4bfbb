package nuclei

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrLaunch classifies a scanner binary which could not be started.
var ErrLaunch = errors.New("scanner launch failed")

const (
	defaultGracePeriod = 5 * time.Second

	// nuclei result lines carry full request/response dumps
	maxLineBytes = 1 << 20
)

// UpdateFunc receives the task after every state change. Calls for a
// single task are strictly ordered: one running transition, zero or
// more result updates, exactly one terminal transition.
type UpdateFunc func(*Task)

type process struct {
	cmd  *exec.Cmd
	done chan struct{} // closed once the process has been waited on
}

// Runner executes tasks as scanner subprocesses and keeps a handle
// table of live processes so any goroutine can cancel them.
type Runner struct {
	mx     sync.Mutex
	active map[string]*process
	grace  time.Duration
}

func NewRunner() *Runner {
	return &Runner{
		active: make(map[string]*process),
		grace:  defaultGracePeriod,
	}
}

// WithGracePeriod changes how long Cancel waits for a voluntary exit
// before force-killing. Used by tests.
func (r *Runner) WithGracePeriod(d time.Duration) *Runner {
	r.grace = d
	return r
}

// Go executes the task on its own goroutine. Launch errors surface
// only through task state and onUpdate.
func (r *Runner) Go(ctx context.Context, task *Task, onUpdate UpdateFunc) {
	go func() {
		if err := r.Run(ctx, task, onUpdate); err != nil {
			slog.ErrorContext(ctx, "scan failed", "task_id", task.ID, "task_name", task.Name, "error", err)
		}
	}()
}

// Run executes the task to completion, blocking the calling goroutine.
// The task must be pending. Returns an error wrapping ErrLaunch when
// the scanner binary cannot be started; failures of a started scan are
// reported via task state only.
func (r *Runner) Run(ctx context.Context, task *Task, onUpdate UpdateFunc) error {
	if onUpdate == nil {
		onUpdate = func(*Task) {}
	}
	if task.Status != StatusPending {
		return fmt.Errorf("task %s is %s, expected %s", task.ID, task.Status, StatusPending)
	}

	cmd := exec.CommandContext(ctx, task.Binary, BuildArgs(task)...)
	cmd.WaitDelay = r.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failLaunch(task, onUpdate, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failLaunch(task, onUpdate, err)
	}
	if err := cmd.Start(); err != nil {
		return r.failLaunch(task, onUpdate, err)
	}

	task.Status = StatusRunning
	task.StartedAt = time.Now().UTC()
	proc := &process{cmd: cmd, done: make(chan struct{})}
	r.register(task.ID, proc)
	defer func() {
		close(proc.done)
		r.unregister(task.ID)
		onUpdate(task)
	}()
	onUpdate(task)

	// stderr is drained concurrently, a chatty scanner must not block
	// on a full pipe while we read stdout
	var errBuf bytes.Buffer
	var drain sync.WaitGroup
	drain.Add(1)
	go func() {
		defer drain.Done()
		_, _ = io.Copy(&errBuf, stderr)
	}()

	total := max(len(task.Targets), 1)
	processed := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			// malformed lines never abort the task
			slog.DebugContext(ctx, "discarding unparsable output line", "task_id", task.ID)
			continue
		}
		task.Results = append(task.Results, parseResult(raw))
		processed++
		task.Progress = min(float64(processed)/float64(total), 0.99)
		onUpdate(task)
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "reading scanner output", "task_id", task.ID, "error", err)
	}

	drain.Wait()
	waitErr := cmd.Wait()
	task.FinishedAt = time.Now().UTC()
	if waitErr != nil {
		task.Status = StatusError
		task.Err = strings.TrimSpace(errBuf.String())
		if task.Err == "" {
			task.Err = fmt.Sprintf("scanner exited with code %d", cmd.ProcessState.ExitCode())
		}
	} else {
		task.Status = StatusCompleted
		task.Progress = 1.0
	}
	return nil
}

func (r *Runner) failLaunch(task *Task, onUpdate UpdateFunc, err error) error {
	task.Status = StatusError
	task.Err = fmt.Sprintf("starting scanner %s: %v", task.Binary, err)
	task.FinishedAt = time.Now().UTC()
	onUpdate(task)
	return fmt.Errorf("%w: %s: %w", ErrLaunch, task.Binary, err)
}

// Cancel requests graceful termination of the task's process and
// force-kills it after the grace period. A task with no registered
// process is a no-op, covering races with natural completion. Task
// state is not touched here; the terminated process exits nonzero and
// the streaming worker classifies that as usual.
func (r *Runner) Cancel(id string) {
	r.mx.Lock()
	proc, ok := r.active[id]
	r.mx.Unlock()
	if !ok {
		return
	}

	_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-proc.done:
	case <-time.After(r.grace):
		_ = proc.cmd.Process.Kill()
	}
}

func (r *Runner) register(id string, proc *process) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.active[id] = proc
}

func (r *Runner) unregister(id string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.active, id)
}
