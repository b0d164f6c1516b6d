// Package driver runs the periodic tick of a group helper.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MinTick is the smallest interval the cron scheduler supports.
const MinTick = time.Second

var ErrAlreadyStarted = errors.New("runner already started")

// Ticker is advanced by the runner. groups.Helper implements it.
type Ticker interface {
	Tick(ctx context.Context)
}

type Runner struct {
	ticker Ticker
	every  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewRunner(ticker Ticker, every time.Duration, logger *slog.Logger) *Runner {
	if every < MinTick {
		every = MinTick
	}

	return &Runner{
		ticker: ticker,
		every:  every,
		logger: logger.With("module", "driver"),
	}
}

// Start ticks once immediately and then every interval until Stop is called
// or ctx is done. A tick still running when the next one is due is skipped.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	tick := func() {
		if ctx.Err() != nil {
			return
		}

		r.ticker.Tick(ctx)
	}

	cronLogger := cronLogger{logger: r.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	), cron.WithLogger(cronLogger))

	c.Schedule(cron.Every(r.every), cron.FuncJob(tick))

	r.cron = c
	r.cancel = cancel

	tick()
	c.Start()

	r.logger.Info("Started ticking", "every", r.every)

	go func() {
		<-ctx.Done()
		r.stop(c)
	}()

	return nil
}

// Stop stops ticking and waits for a running tick to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.mu.Unlock()

	r.stop(c)
}

// stop stops c if it is still the running instance.
func (r *Runner) stop(c *cron.Cron) {
	r.mu.Lock()
	if c == nil || r.cron != c {
		r.mu.Unlock()

		return
	}

	cancel := r.cancel
	r.cron = nil
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-c.Stop().Done()

	r.logger.Info("Stopped ticking")
}

// cronLogger forwards cron's logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
