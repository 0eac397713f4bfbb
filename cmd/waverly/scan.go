package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/waverly/waverly/internal/export"
	"github.com/waverly/waverly/internal/nuclei"
	"github.com/waverly/waverly/internal/schedule"
	"github.com/waverly/waverly/internal/templates"

	"github.com/spf13/cobra"
)

var (
	flagScanName        string
	flagScanTemplates   []string
	flagScanRateLimit   int
	flagScanConcurrency int
	flagScanSeverity    string
	flagScanProxy       string
	flagScanInteractURL string
	flagScanRawOutput   string
	flagScanOutput      string
	flagScanEvery       string
)

func init() {
	scanCmd.Flags().StringVar(&flagScanName, "name", "", "task name (defaults to the first target)")
	scanCmd.Flags().StringSliceVarP(&flagScanTemplates, "template", "t", nil, "template id or path, repeatable")
	scanCmd.Flags().IntVar(&flagScanRateLimit, "rate-limit", 0, "requests per second (overrides config)")
	scanCmd.Flags().IntVar(&flagScanConcurrency, "concurrency", 0, "parallel templates (overrides config)")
	scanCmd.Flags().StringVar(&flagScanSeverity, "severity", "", "only run templates of this severity")
	scanCmd.Flags().StringVar(&flagScanProxy, "proxy", "", "proxy URL for scanner traffic (overrides config)")
	scanCmd.Flags().StringVar(&flagScanInteractURL, "interactsh-url", "", "self-hosted interactsh server URL (overrides config)")
	scanCmd.Flags().StringVar(&flagScanRawOutput, "raw-output", "", "file the scanner writes its own findings log to")
	scanCmd.Flags().StringVarP(&flagScanOutput, "output", "o", "", "write results to an xlsx file")
	scanCmd.Flags().StringVar(&flagScanEvery, "every", "", "repeat the scan on a schedule (duration or cron expression)")
}

var scanCmd = &cobra.Command{
	Use:   "scan target...",
	Short: "Run a nuclei scan against one or more targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doScan(cmd.Context(), args)
	},
}

func doScan(ctx context.Context, targets []string) error {
	store, err := templates.NewStore(config.TemplatesDir)
	if err != nil {
		return fmt.Errorf("opening template store: %w", err)
	}

	severity, err := nuclei.ParseSeverity(flagScanSeverity)
	if err != nil {
		return err
	}

	manager := nuclei.NewManager().WithResolver(templateResolver(store))
	spec := nuclei.TaskSpec{
		Name:        flagScanName,
		Targets:     targets,
		Templates:   flagScanTemplates,
		Binary:      config.Nuclei.Binary,
		RateLimit:   config.Nuclei.RateLimit,
		Concurrency: config.Nuclei.Concurrency,
		Severity:    severity,
		InteractURL: config.Nuclei.InteractURL,
		OutputPath:  flagScanRawOutput,
	}
	if flagScanRateLimit > 0 {
		spec.RateLimit = flagScanRateLimit
	}
	if flagScanConcurrency > 0 {
		spec.Concurrency = flagScanConcurrency
	}
	if flagScanInteractURL != "" {
		spec.InteractURL = flagScanInteractURL
	}
	if config.Proxy != nil {
		spec.Proxy = config.Proxy.HTTP
	}
	if flagScanProxy != "" {
		spec.Proxy = flagScanProxy
	}

	if flagScanEvery == "" {
		return runScanOnce(ctx, manager, spec)
	}

	sched, err := schedule.New(flagScanEvery, func() {
		if err := runScanOnce(ctx, manager, spec); err != nil {
			slog.Error("scheduled scan failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", flagScanEvery, err)
	}
	sched.Start()
	slog.Info("scan scheduled", "every", flagScanEvery, "targets", len(spec.Targets))

	<-ctx.Done()
	return sched.Shutdown()
}

func runScanOnce(ctx context.Context, manager *nuclei.Manager, spec nuclei.TaskSpec) error {
	done := make(chan *nuclei.Task, 1)
	remove := manager.AddListener(func(task *nuclei.Task) {
		slog.Info("scan progress",
			"task", task.Name,
			"status", task.Status,
			"progress", task.Progress,
			"findings", len(task.Results),
		)
		if task.Status.Finished() {
			select {
			case done <- task:
			default:
			}
		}
	})
	defer remove()

	created, err := manager.CreateTask(ctx, spec)
	if err != nil {
		return fmt.Errorf("creating scan task: %w", err)
	}

	var task *nuclei.Task
	select {
	case task = <-done:
	case <-ctx.Done():
		manager.StopTask(created.ID)
		task = <-done
	}

	if task.Status == nuclei.StatusError {
		return errors.New(task.Err)
	}

	summary := nuclei.SummarizeBySeverity(task.Results)
	slog.Info("scan finished", "task", task.Name, "findings", len(task.Results), "severities", summary)
	for _, result := range task.Results {
		fmt.Printf("[%v] [%s] %s\n", result.Info["severity"], result.TemplateID, result.MatchedAt)
	}

	if flagScanOutput != "" {
		if err := export.Results(task.Results, flagScanOutput); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		slog.Info("results exported", "path", flagScanOutput)
	}
	return nil
}

// templateResolver maps template references to file paths. A reference
// that already points to an existing file is used as-is, anything else
// is looked up in the store by template id.
func templateResolver(store *templates.Store) nuclei.ResolverFunc {
	return func(ref string) (string, error) {
		if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
			return ref, nil
		}
		return store.PathFor(ref)
	}
}
