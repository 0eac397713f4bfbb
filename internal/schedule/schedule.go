// Package schedule runs recurring scans on a cron or interval spec.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// ParseCron validates a 5-field cron expression or an @macro.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}

	// Macros / @every are handled by ParseStandard.
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}

// Definition turns a schedule spec into a gocron job definition. The
// spec is either a cron expression ("*/15 * * * *", "@hourly") or a Go
// duration ("90s", "15m").
func Definition(spec string) (gocron.JobDefinition, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, errors.New("empty schedule")
	}

	if strings.HasPrefix(s, "@") || strings.Count(s, " ") == 4 {
		if err := ParseCron(s); err != nil {
			return nil, fmt.Errorf("parsing cron schedule: %w", err)
		}
		return gocron.CronJob(s, false), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither a cron expression nor a duration", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", d)
	}
	return gocron.DurationJob(d), nil
}

// Scheduler invokes a func on every tick of its schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
}

func New(spec string, fn func()) (*Scheduler, error) {
	def, err := Definition(spec)
	if err != nil {
		return nil, err
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}
	_, err = s.NewJob(def, gocron.NewTask(fn))
	if err != nil {
		return nil, fmt.Errorf("initializing scheduled job: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
