package nuclei

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func (s Status) String() string { return string(s) }

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusError
}

// Severity filter accepted by the nuclei -severity flag.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts s to a Severity. Empty input is valid and
// means no filtering.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case "", SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity: %q", s)
	}
}

// Result is one parsed match emitted by the scanner, one per JSONL line.
// Read-only once appended to a task.
type Result struct {
	TemplateID string
	MatchedAt  string
	Info       map[string]any
	Raw        map[string]any
}

// parseResult interprets one decoded output record. Both the modern
// kebab-case and the legacy camelCase key spellings are accepted.
func parseResult(raw map[string]any) Result {
	info, _ := raw["info"].(map[string]any)
	return Result{
		TemplateID: stringField(raw, "template-id", "templateID"),
		MatchedAt:  stringField(raw, "matched-at", "matchedAt"),
		Info:       info,
		Raw:        raw,
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// TaskSpec holds the launch parameters for a new Task.
type TaskSpec struct {
	Name        string
	Targets     []string
	Templates   []string // resolved template paths
	Binary      string   // defaults to "nuclei"
	RateLimit   int      // 0 = unset
	Concurrency int      // 0 = unset
	Severity    Severity
	InteractURL string // callback-log (interactsh) endpoint
	Proxy       string
	OutputPath  string
}

// Task describes one scan invocation. Launch parameters are immutable
// after NewTask; run state is owned by the Runner worker while the task
// is active. External readers only ever see snapshots produced by Clone.
type Task struct {
	ID   string
	Name string

	TaskSpec

	Status   Status
	Progress float64
	Results  []Result
	Err      string

	CreatedAt  time.Time
	StartedAt  time.Time // zero until running
	FinishedAt time.Time // zero until terminal
}

// NewTask validates spec and constructs a pending Task with a fresh
// identifier. Targets are trimmed and deduplicated, order preserved.
func NewTask(spec TaskSpec) (*Task, error) {
	spec.Targets = dedupe(spec.Targets)
	if len(spec.Targets) == 0 {
		return nil, fmt.Errorf("task %q: no targets", spec.Name)
	}
	if spec.Binary == "" {
		spec.Binary = "nuclei"
	}
	if spec.RateLimit < 0 {
		return nil, fmt.Errorf("task %q: negative rate limit %d", spec.Name, spec.RateLimit)
	}
	if spec.Concurrency < 0 {
		return nil, fmt.Errorf("task %q: negative concurrency %d", spec.Name, spec.Concurrency)
	}
	if _, err := ParseSeverity(string(spec.Severity)); err != nil {
		return nil, fmt.Errorf("task %q: %w", spec.Name, err)
	}

	return &Task{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		TaskSpec:  spec,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Clone returns a consistent snapshot of the task. The results slice is
// copied; the records themselves are append-only and never mutated, so
// sharing them is safe.
func (t *Task) Clone() *Task {
	snap := *t
	snap.Results = slices.Clone(t.Results)
	return &snap
}

// SummarizeBySeverity counts results per severity reported in their
// info map. Results without one are counted as "unknown".
func SummarizeBySeverity(results []Result) map[string]int {
	summary := make(map[string]int)
	for _, r := range results {
		severity := "unknown"
		if s, ok := r.Info["severity"].(string); ok && s != "" {
			severity = s
		}
		summary[severity]++
	}
	return summary
}

func dedupe(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
