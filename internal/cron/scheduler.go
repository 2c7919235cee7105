package cron

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vpnshop/internal/config"
	"vpnshop/internal/pkg/utils"
	"vpnshop/internal/service"
)

const jobTimeout = 2 * time.Minute

// Reporter delivers job output to the admins.
type Reporter interface {
	AdminText(ctx context.Context, text string) int
	AdminDocument(ctx context.Context, filename string, data []byte, caption string) int
}

// Exporter produces the files of a backup.
type Exporter interface {
	Export() (map[string][]byte, error)
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.CronConfig
	store    Exporter
	reporter Reporter
	stats    func() service.Stats
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a new cron scheduler. stats is evaluated on every report run.
func New(cfg config.CronConfig, store Exporter, reporter Reporter, stats func() service.Stats, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		cfg:      cfg,
		store:    store,
		reporter: reporter,
		stats:    stats,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers and starts all cron jobs. An empty schedule disables
// its job.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"backup", s.cfg.Backup, s.backup},
		{"daily report", s.cfg.Report, s.dailyReport},
	}
	for _, job := range jobs {
		if job.spec == "" {
			s.logger.Info("Cron job disabled", zap.String("job", job.name))
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			defer s.recoverFromPanic(job.name)
			s.logger.Debug("Running: " + job.name)
			job.run()
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// ── Backup ────────────────────────────────────────────────────────────

// backup sends every non-empty store file to each admin.
func (s *Scheduler) backup() {
	files, err := s.store.Export()
	if err != nil {
		s.logger.Error("Backup export failed", zap.Error(err))
		return
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	stamp := utils.FormatTime(s.now())
	for _, name := range names {
		data := files[name]
		if len(data) == 0 {
			continue
		}
		caption := fmt.Sprintf("💾 پشتیبان %s\n🕒 %s", name, stamp)
		if sent := s.reporter.AdminDocument(ctx, name, data, caption); sent == 0 {
			s.logger.Warn("Backup file reached no admin", zap.String("file", name))
		}
	}
	s.logger.Info("Backup sent", zap.Int("files", len(names)))
}

// ── Daily report ──────────────────────────────────────────────────────

func (s *Scheduler) dailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	text := "🗓 گزارش روزانه " + utils.FormatTime(s.now()) + "\n\n" + s.stats().Text()
	if sent := s.reporter.AdminText(ctx, text); sent == 0 {
		s.logger.Warn("Daily report reached no admin")
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
