package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vpnshop/internal/config"
	"vpnshop/internal/service"
)

type fakeReporter struct {
	mu    sync.Mutex
	texts []string
	docs  []string
}

func (r *fakeReporter) AdminText(_ context.Context, text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return 1
}

func (r *fakeReporter) AdminDocument(_ context.Context, filename string, _ []byte, caption string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, filename+"|"+caption)
	return 1
}

type exporterFunc func() (map[string][]byte, error)

func (f exporterFunc) Export() (map[string][]byte, error) { return f() }

func newTestScheduler(cfg config.CronConfig, store Exporter, reporter Reporter) *Scheduler {
	s := New(cfg, store, reporter, func() service.Stats {
		return service.Stats{Users: 3, Orders: 2, Approved: 1, Revenue: 50000}
	}, zap.NewNop())
	s.now = func() time.Time { return time.Date(2025, 3, 1, 23, 45, 0, 0, time.UTC) }
	return s
}

func TestBackupSendsNonEmptyFilesInOrder(t *testing.T) {
	reporter := &fakeReporter{}
	store := exporterFunc(func() (map[string][]byte, error) {
		return map[string][]byte{
			"users.txt":     []byte("7\n"),
			"configs.json":  []byte("[]"),
			"blacklist.txt": nil,
		}, nil
	})
	s := newTestScheduler(config.CronConfig{}, store, reporter)

	s.backup()

	require.Len(t, reporter.docs, 2)
	assert.Contains(t, reporter.docs[0], "configs.json|💾")
	assert.Contains(t, reporter.docs[1], "users.txt|")
	assert.Contains(t, reporter.docs[1], "2025-03-01 23:45")
}

func TestBackupExportFailureSendsNothing(t *testing.T) {
	reporter := &fakeReporter{}
	store := exporterFunc(func() (map[string][]byte, error) { return nil, errors.New("disk gone") })
	newTestScheduler(config.CronConfig{}, store, reporter).backup()
	assert.Empty(t, reporter.docs)
}

func TestDailyReportUsesStats(t *testing.T) {
	reporter := &fakeReporter{}
	s := newTestScheduler(config.CronConfig{}, exporterFunc(func() (map[string][]byte, error) { return nil, nil }), reporter)

	s.dailyReport()

	require.Len(t, reporter.texts, 1)
	assert.Contains(t, reporter.texts[0], "گزارش روزانه 2025-03-01 23:45")
	assert.Contains(t, reporter.texts[0], "50,000")
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	noop := exporterFunc(func() (map[string][]byte, error) { return nil, nil })

	s := newTestScheduler(config.CronConfig{Backup: "0 0 3 * * *", Report: ""}, noop, &fakeReporter{})
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	<-s.Stop().Done()

	bad := newTestScheduler(config.CronConfig{Backup: "whenever"}, noop, &fakeReporter{})
	err := bad.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule backup")
}
