package nuclei

// Package nuclei supervises concurrent scanner subprocesses.
//
// Overview
// The Manager owns a registry of tasks and an ordered listener list.
// Clients create a task from targets and template references; the
// Manager dispatches it to the Runner on a dedicated goroutine and the
// caller returns immediately. Any task can be cancelled by identifier.
//
// A Task carries immutable launch parameters plus run state (status,
// progress, results). While a scan is active, its run state is owned
// exclusively by the runner worker; the Manager stores only immutable
// snapshots, replaced wholesale on every update, which is what Get and
// List hand out.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - builds the argument vector with BuildArgs
//   - starts the process with piped stdout and stderr
//   - parses stdout line by line as JSONL result records
//   - drains stderr concurrently for the terminal error message
//   - keeps a mutex-guarded id -> process handle table for cancellation
//
// Data flow:
//
//	Manager                 Runner{task}              scanner process
//	   |                        |                         |
//	CreateTask -> snapshot ---->| Go()/Run() ------------>| Start
//	   |                        | running + onUpdate      |
//	   |<----- onUpdate --------| result per JSONL line <-| stdout
//	   | fan out to listeners   |                         |
//	   |<----- onUpdate --------| terminal transition  <--| exit code
//	StopTask ----------------->| Cancel: SIGTERM, grace, SIGKILL
//
// Invariants:
//   - Per task, onUpdate calls are strictly ordered: running, zero or
//     more results in output order, exactly one terminal transition.
//   - Progress never decreases and stays below 1.0 until completion;
//     exactly 1.0 means completed.
//   - The result sequence is append-only; records are never mutated.
//   - The process handle is released on every exit path.
//   - Lines which do not parse as a JSON object are skipped, not fatal.
//   - Cancelling an unknown or finished task is a harmless no-op.
