package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"content-autoposter/internal/logger"
)

// JobFunc is one scheduled run. The context is cancelled when the service stops.
type JobFunc func(ctx context.Context) error

// CronService runs named jobs on cron expressions. A job never overlaps itself.
type CronService struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewCronService(loc *time.Location) *CronService {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(loc)
	s.TagsUnique()

	return &CronService{scheduler: s, ctx: ctx, cancel: cancel}
}

// Register schedules job under name using a standard five-field cron expression.
func (c *CronService) Register(name, cronExpr string, job JobFunc) error {
	_, err := c.scheduler.Cron(cronExpr).Tag(name).SingletonMode().Do(func() {
		c.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, cronExpr, err)
	}
	logger.Info("Job scheduled", "job", name, "cron", cronExpr)
	return nil
}

func (c *CronService) run(name string, job JobFunc) {
	if c.ctx.Err() != nil {
		return
	}
	start := time.Now()
	logger.Info("Job started", "job", name)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", name, "panic", fmt.Sprint(r))
		}
	}()

	if err := job(c.ctx); err != nil {
		logger.Error("Job failed", "job", name, "error", err, "duration", time.Since(start).String())
		return
	}
	logger.Info("Job finished", "job", name, "duration", time.Since(start).String())
}

// RunNow triggers a registered job immediately, outside its schedule.
func (c *CronService) RunNow(name string) error {
	return c.scheduler.RunByTag(name)
}

// NextRun returns the next scheduled time of a job.
func (c *CronService) NextRun(name string) (time.Time, error) {
	jobs, err := c.scheduler.FindJobsByTag(name)
	if err != nil {
		return time.Time{}, err
	}
	return jobs[0].NextRun(), nil
}

func (c *CronService) Start() {
	c.scheduler.StartAsync()
}

// Stop cancels running jobs' context and waits for the scheduler to halt.
func (c *CronService) Stop() {
	c.cancel()
	c.scheduler.Stop()
}
