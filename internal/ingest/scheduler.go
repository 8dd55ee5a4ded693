package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/opal/internal/config"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("ingest: cron %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler re-ingests URLs on their cron schedules.
type Scheduler struct {
	ingester *Ingester
	jobs     []scheduledURL
	out      io.Writer
	now      func() time.Time
}

type scheduledURL struct {
	cfg   config.ScheduleConfig
	sched cron.Schedule
}

// NewScheduler creates a Scheduler. Every cron expression is parsed here;
// an invalid one is an error.
func NewScheduler(ing *Ingester, schedules []config.ScheduleConfig, out io.Writer) (*Scheduler, error) {
	if ing == nil {
		return nil, fmt.Errorf("ingest: scheduler: ingester is required")
	}
	if out == nil {
		out = os.Stdout
	}
	s := &Scheduler{ingester: ing, out: out, now: time.Now}
	for _, cfg := range schedules {
		sched, err := ParseSchedule(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("ingest: schedule %s: %w", scheduleName(cfg), err)
		}
		s.jobs = append(s.jobs, scheduledURL{cfg: cfg, sched: sched})
	}
	return s, nil
}

// Len returns the number of schedules.
func (s *Scheduler) Len() int { return len(s.jobs) }

// NextRuns returns each schedule's next fire time after from, by name.
func (s *Scheduler) NextRuns(from time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[scheduleName(j.cfg)] = j.sched.Next(from)
	}
	return out
}

// Run starts one timer loop per schedule and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j scheduledURL) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j scheduledURL) {
	name := scheduleName(j.cfg)
	for {
		now := s.now()
		next := j.sched.Next(now)
		if next.IsZero() {
			log.Printf("ingest: schedule %s never fires", name)
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, j.cfg)
	}
}

// fire runs a single scheduled ingest.
func (s *Scheduler) fire(ctx context.Context, cfg config.ScheduleConfig) {
	rec, err := s.ingester.IngestSchedule(ctx, cfg)
	if err != nil {
		log.Printf("ingest: schedule %s: %v", scheduleName(cfg), err)
		return
	}
	fmt.Fprintf(s.out, "Re-ingested %s (%s): %d chunks\n", scheduleName(cfg), cfg.URL, rec.ChunksCreated)
}

func scheduleName(cfg config.ScheduleConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.URL
}
