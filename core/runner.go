package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"sxfer/config"
	"sxfer/protocols"
)

// Janitor periodically removes temporary upload files left behind in the
// served root by a crashed or killed server. Only names made by
// UploadTempPath are considered, and uploads still in progress are never
// touched.
type Janitor struct {
	Schedule string
	MaxAge   time.Duration
	Active   *ActiveTransfers
	// Open returns the backend to sweep; it is called once per run.
	Open   func() (protocols.FileSystem, error)
	Logger *log.Logger
	Cron   *cron.Cron

	wg sync.WaitGroup
}

func NewJanitor(cfg config.JanitorConfig, active *ActiveTransfers, open func() (protocols.FileSystem, error), logger *log.Logger) *Janitor {
	return &Janitor{
		Schedule: cfg.Cron,
		MaxAge:   cfg.TmpMaxAge.Duration,
		Active:   active,
		Open:     open,
		Logger:   logger,
		Cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(logger)),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
	}
}

// Start schedules the sweep and runs it once right away. An empty schedule
// disables the janitor.
func (j *Janitor) Start() error {
	if j.Schedule == "" {
		return nil
	}
	_, err := j.Cron.AddFunc(j.Schedule, j.run)
	if err != nil {
		return fmt.Errorf("failed to schedule janitor %q: %w", j.Schedule, err)
	}
	j.Logger.Printf("scheduled stale upload sweep with cron %s", j.Schedule)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run()
	}()
	j.Cron.Start()
	return nil
}

// Stop waits for running sweeps to finish, including the one Start began.
func (j *Janitor) Stop() {
	<-j.Cron.Stop().Done()
	j.wg.Wait()
}

func (j *Janitor) run() {
	removed, err := j.Sweep(time.Now())
	if err != nil {
		j.Logger.Printf("janitor sweep failed: %v", err)
	}
	if removed > 0 {
		j.Logger.Printf("janitor removed %d stale temporary files", removed)
	}
}

// Sweep removes temporary upload files directly below the root that are
// older than MaxAge at now and not registered as in progress. Other files
// ending in .tmp belong to users and are kept.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	fsys, err := j.Open()
	if err != nil {
		return 0, err
	}
	if err := fsys.Init(); err != nil {
		return 0, err
	}
	defer fsys.Close()

	entries, err := fsys.List(fsys.Root())
	if err != nil {
		return 0, err
	}

	var (
		removed int
		result  *multierror.Error
	)
	for _, e := range entries {
		if e.IsDir || !IsUploadTemp(e.Name) {
			continue
		}
		if j.Active.Has(e.Path) || now.Sub(e.ModTime) < j.MaxAge {
			continue
		}
		if err := fsys.Remove(e.Path); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}
