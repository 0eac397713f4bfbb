package nuclei

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Listener observes task snapshots. Listeners run synchronously on the
// reporting task's worker goroutine, in registration order; keep them
// fast or hand off to your own queue.
type Listener func(*Task)

type listenerEntry struct {
	fn Listener
}

// ResolverFunc turns a template reference (id or path) into a path
// usable on the scanner command line.
type ResolverFunc func(ref string) (string, error)

// Manager owns the set of in-flight and finished tasks. It mediates all
// interaction with the Runner and fans task snapshots out to listeners.
// The registry holds immutable snapshots; the runner worker owns the
// live task and the manager replaces the stored snapshot on every
// update, so reads never race with a running scan.
type Manager struct {
	runner  *Runner
	resolve ResolverFunc

	mx        sync.Mutex
	tasks     map[string]*Task
	listeners []*listenerEntry
}

func NewManager() *Manager {
	return &Manager{
		runner: NewRunner(),
		tasks:  make(map[string]*Task),
	}
}

// WithRunner replaces the default runner.
func (m *Manager) WithRunner(r *Runner) *Manager {
	m.runner = r
	return m
}

// WithResolver installs a template reference resolver.
func (m *Manager) WithResolver(fn ResolverFunc) *Manager {
	m.resolve = fn
	return m
}

// CreateTask builds a pending task from spec, registers it and
// dispatches its execution. It returns the initial snapshot
// immediately; later state is observed via listeners, Get or List.
func (m *Manager) CreateTask(ctx context.Context, spec TaskSpec) (*Task, error) {
	if m.resolve != nil {
		resolved := make([]string, 0, len(spec.Templates))
		for _, ref := range spec.Templates {
			path, err := m.resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("resolving template %q: %w", ref, err)
			}
			resolved = append(resolved, path)
		}
		spec.Templates = resolved
	}

	task, err := NewTask(spec)
	if err != nil {
		return nil, err
	}

	snap := task.Clone()
	m.mx.Lock()
	m.tasks[task.ID] = snap
	m.mx.Unlock()

	m.runner.Go(ctx, task, m.onUpdate)
	return snap, nil
}

// StopTask requests cancellation of the task's process. Best-effort;
// unknown or already finished tasks are a no-op.
func (m *Manager) StopTask(id string) {
	m.runner.Cancel(id)
}

// Get returns the latest snapshot of the task, if known.
func (m *Manager) Get(id string) (*Task, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// List returns the latest snapshots of all tasks in creation order.
func (m *Manager) List() []*Task {
	m.mx.Lock()
	defer m.mx.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ClearFinished removes every completed or errored task from the
// registry. Running and pending entries are unaffected; no process is
// stopped.
func (m *Manager) ClearFinished() {
	m.mx.Lock()
	defer m.mx.Unlock()
	for id, t := range m.tasks {
		if t.Status.Finished() {
			delete(m.tasks, id)
		}
	}
}

// AddListener registers fn and returns its removal func. Removing an
// already removed listener is a no-op.
func (m *Manager) AddListener(fn Listener) (remove func()) {
	entry := &listenerEntry{fn: fn}
	m.mx.Lock()
	m.listeners = append(m.listeners, entry)
	m.mx.Unlock()

	return func() {
		m.mx.Lock()
		defer m.mx.Unlock()
		for i, cand := range m.listeners {
			if cand == entry {
				m.listeners = slices.Delete(m.listeners, i, i+1)
				return
			}
		}
	}
}

// onUpdate is the runner callback: store a fresh snapshot, then notify
// listeners in registration order with that same snapshot.
func (m *Manager) onUpdate(t *Task) {
	snap := t.Clone()
	m.mx.Lock()
	m.tasks[snap.ID] = snap
	listeners := slices.Clone(m.listeners)
	m.mx.Unlock()

	for _, l := range listeners {
		notify(l.fn, snap)
	}
}

// notify isolates a faulting listener so it cannot take the task's
// worker down with it.
func notify(fn Listener, t *Task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task listener panicked", "task_id", t.ID, "panic", rec)
		}
	}()
	fn(t)
}
