package nuclei_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/waverly/waverly/internal/nuclei"

	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script acting as a fake
// scanner binary. The script ignores the arguments built for it.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fake-nuclei")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755)
	require.NoError(t, err)
	return path
}

func pendingTask(t *testing.T, spec nuclei.TaskSpec) *nuclei.Task {
	t.Helper()
	task, err := nuclei.NewTask(spec)
	require.NoError(t, err)
	return task
}

func TestRunnerStream(t *testing.T) {
	t.Parallel()
	binary := writeScript(t, `
echo 'this is not json'
echo '{"template-id":"demo","matched-at":"2026-01-02T15:04:05Z","info":{"severity":"medium","name":"Demo"},"host":"https://one.example.com"}'
echo ''
echo '{"templateID":"legacy","matchedAt":"2026-01-02T15:05:00Z","info":{"severity":"low"},"host":"https://two.example.com"}'
`)

	task := pendingTask(t, nuclei.TaskSpec{
		Name:    "stream",
		Targets: []string{"https://one.example.com", "https://two.example.com"},
		Binary:  binary,
	})

	var updates []*nuclei.Task
	err := nuclei.NewRunner().Run(t.Context(), task, func(t *nuclei.Task) {
		updates = append(updates, t.Clone())
	})
	require.NoError(t, err)

	// running, two results, terminal
	require.Len(t, updates, 4)
	require.Equal(t, nuclei.StatusRunning, updates[0].Status)
	require.NotZero(t, updates[0].StartedAt)

	require.Equal(t, nuclei.StatusRunning, updates[1].Status)
	require.Len(t, updates[1].Results, 1)
	require.InDelta(t, 0.5, updates[1].Progress, 1e-9)

	require.Equal(t, nuclei.StatusRunning, updates[2].Status)
	require.Len(t, updates[2].Results, 2)
	require.InDelta(t, 0.99, updates[2].Progress, 1e-9)

	final := updates[3]
	require.Equal(t, nuclei.StatusCompleted, final.Status)
	require.Equal(t, 1.0, final.Progress)
	require.NotZero(t, final.FinishedAt)
	require.Empty(t, final.Err)

	// malformed and empty lines were skipped, not counted
	require.Len(t, final.Results, 2)
	require.Equal(t, "demo", final.Results[0].TemplateID)
	require.Equal(t, "2026-01-02T15:04:05Z", final.Results[0].MatchedAt)
	require.Equal(t, "medium", final.Results[0].Info["severity"])
	require.Equal(t, "https://one.example.com", final.Results[0].Raw["host"])
	require.Equal(t, "legacy", final.Results[1].TemplateID)

	// progress is monotonically non-decreasing
	for i := 1; i < len(updates); i++ {
		require.GreaterOrEqual(t, updates[i].Progress, updates[i-1].Progress)
	}
}

func TestRunnerProgressCap(t *testing.T) {
	t.Parallel()
	// three results for a single target: the in-flight ratio stays
	// capped below 1.0, only the terminal transition reaches it
	binary := writeScript(t, `
echo '{"template-id":"a","matched-at":"x","info":{}}'
echo '{"template-id":"b","matched-at":"x","info":{}}'
echo '{"template-id":"c","matched-at":"x","info":{}}'
`)
	task := pendingTask(t, nuclei.TaskSpec{
		Name:    "cap",
		Targets: []string{"https://example.com"},
		Binary:  binary,
	})

	var progress []float64
	err := nuclei.NewRunner().Run(t.Context(), task, func(t *nuclei.Task) {
		progress = append(progress, t.Progress)
	})
	require.NoError(t, err)
	require.Len(t, progress, 5)
	for _, p := range progress[:4] {
		require.LessOrEqual(t, p, 0.99)
	}
	require.Equal(t, 1.0, progress[4])
}

func TestRunnerExitError(t *testing.T) {
	t.Parallel()

	t.Run("stderr message", func(t *testing.T) {
		t.Parallel()
		binary := writeScript(t, `
echo 'could not resolve template' 1>&2
exit 2
`)
		task := pendingTask(t, nuclei.TaskSpec{
			Name:    "fails",
			Targets: []string{"https://example.com"},
			Binary:  binary,
		})
		err := nuclei.NewRunner().Run(t.Context(), task, nil)
		require.NoError(t, err) // execution errors are task state, not return values
		require.Equal(t, nuclei.StatusError, task.Status)
		require.Equal(t, "could not resolve template", task.Err)
		require.NotZero(t, task.FinishedAt)
	})

	t.Run("generic message", func(t *testing.T) {
		t.Parallel()
		binary := writeScript(t, "exit 3\n")
		task := pendingTask(t, nuclei.TaskSpec{
			Name:    "silent",
			Targets: []string{"https://example.com"},
			Binary:  binary,
		})
		err := nuclei.NewRunner().Run(t.Context(), task, nil)
		require.NoError(t, err)
		require.Equal(t, nuclei.StatusError, task.Status)
		require.Equal(t, "scanner exited with code 3", task.Err)
	})
}

func TestRunnerLaunchError(t *testing.T) {
	t.Parallel()
	task := pendingTask(t, nuclei.TaskSpec{
		Name:    "missing",
		Targets: []string{"https://example.com"},
		Binary:  filepath.Join(t.TempDir(), "no-such-binary"),
	})

	var updates int
	err := nuclei.NewRunner().Run(t.Context(), task, func(*nuclei.Task) {
		updates++
	})
	require.Error(t, err)
	require.ErrorIs(t, err, nuclei.ErrLaunch)
	require.Equal(t, 1, updates)
	require.Equal(t, nuclei.StatusError, task.Status)
	require.Contains(t, task.Err, "starting scanner")
	require.True(t, task.StartedAt.IsZero())
	require.NotZero(t, task.FinishedAt)
}

func TestRunnerNotPending(t *testing.T) {
	t.Parallel()
	task := pendingTask(t, nuclei.TaskSpec{
		Name:    "done",
		Targets: []string{"https://example.com"},
	})
	task.Status = nuclei.StatusCompleted
	err := nuclei.NewRunner().Run(t.Context(), task, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected pending")
}

func TestRunnerCancel(t *testing.T) {
	t.Parallel()

	t.Run("unknown id is a no-op", func(t *testing.T) {
		t.Parallel()
		require.NotPanics(t, func() {
			nuclei.NewRunner().Cancel("no-such-task")
		})
	})

	t.Run("graceful termination", func(t *testing.T) {
		t.Parallel()
		binary := writeScript(t, `
trap 'exit 143' TERM
while true; do sleep 0.05; done
`)
		task := pendingTask(t, nuclei.TaskSpec{
			Name:    "cancel-me",
			Targets: []string{"https://example.com"},
			Binary:  binary,
		})

		runner := nuclei.NewRunner()
		running := make(chan struct{})
		done := make(chan *nuclei.Task, 1)
		go func() {
			first := true
			_ = runner.Run(t.Context(), task, func(t *nuclei.Task) {
				if first {
					first = false
					close(running)
				}
				if t.Status.Finished() {
					done <- t.Clone()
				}
			})
		}()

		<-running
		runner.Cancel(task.ID)
		final := <-done
		require.Equal(t, nuclei.StatusError, final.Status)
		require.Equal(t, "scanner exited with code 143", final.Err)
	})

	t.Run("force kill after grace period", func(t *testing.T) {
		t.Parallel()
		binary := writeScript(t, `
trap '' TERM
while true; do sleep 0.05; done
`)
		task := pendingTask(t, nuclei.TaskSpec{
			Name:    "stubborn",
			Targets: []string{"https://example.com"},
			Binary:  binary,
		})

		runner := nuclei.NewRunner().WithGracePeriod(200 * time.Millisecond)
		running := make(chan struct{})
		done := make(chan *nuclei.Task, 1)
		go func() {
			first := true
			_ = runner.Run(t.Context(), task, func(t *nuclei.Task) {
				if first {
					first = false
					close(running)
				}
				if t.Status.Finished() {
					done <- t.Clone()
				}
			})
		}()

		<-running
		runner.Cancel(task.ID)
		final := <-done
		require.Equal(t, nuclei.StatusError, final.Status)

		// cancelling again after completion is a no-op
		runner.Cancel(task.ID)
	})
}
