package nuclei

import "strconv"

// BuildArgs translates the task's launch parameters into the argument
// vector for the scanner binary. Pure function; the flag order is part
// of the contract:
//
//	-json, -rl, -c, -severity, -proxy, -interactsh-url,
//	-t per template, -target per target, -o
func BuildArgs(t *Task) []string {
	args := []string{"-json"}
	if t.RateLimit > 0 {
		args = append(args, "-rl", strconv.Itoa(t.RateLimit))
	}
	if t.Concurrency > 0 {
		args = append(args, "-c", strconv.Itoa(t.Concurrency))
	}
	if t.Severity != "" {
		args = append(args, "-severity", string(t.Severity))
	}
	if t.Proxy != "" {
		args = append(args, "-proxy", t.Proxy)
	}
	if t.InteractURL != "" {
		args = append(args, "-interactsh-url", t.InteractURL)
	}
	for _, template := range t.Templates {
		args = append(args, "-t", template)
	}
	for _, target := range t.Targets {
		args = append(args, "-target", target)
	}
	if t.OutputPath != "" {
		args = append(args, "-o", t.OutputPath)
	}
	return args
}
