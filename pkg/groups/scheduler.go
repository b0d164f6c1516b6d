package groups

import (
	"fmt"
	"time"

	"github.com/dukex/devicegroups/pkg/models"
)

const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultRetryTimeout    = 2 * time.Minute
)

// SchedulerState is the state of the retrieval state machine.
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateWaitConnected
	StateWaitResponse
	StateWaitPeriodic
	StateWaitRetry
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitConnected:
		return "wait_connected"
	case StateWaitResponse:
		return "wait_response"
	case StateWaitPeriodic:
		return "wait_periodic"
	case StateWaitRetry:
		return "wait_retry"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Action is what the caller of Tick has to do next.
type Action int

const (
	ActionNone Action = iota
	ActionSendRequest
)

// Config holds the retrieval timing policy.
type Config struct {
	Mode models.RetrievalMode `json:"mode" yaml:"mode"`
	// Interval between retrievals in periodic mode; zero disables re-arming.
	Interval        time.Duration `json:"interval" yaml:"interval"`
	ResponseTimeout time.Duration `json:"response_timeout" yaml:"response_timeout"`
	RetryTimeout    time.Duration `json:"retry_timeout" yaml:"retry_timeout"`
}

// DefaultConfig returns a manual-mode configuration with the default timeouts.
func DefaultConfig() Config {
	return Config{
		Mode:            models.RetrievalModeManual,
		ResponseTimeout: DefaultResponseTimeout,
		RetryTimeout:    DefaultRetryTimeout,
	}
}

// WithDefaults fills unset fields with their default values.
func (c Config) WithDefaults() Config {
	if mode, err := models.ParseRetrievalMode(string(c.Mode)); err == nil {
		c.Mode = mode
	}

	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}

	if c.RetryTimeout == 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}

	return c
}

func (c Config) Validate() error {
	if _, err := models.ParseRetrievalMode(string(c.Mode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Interval < 0 || c.ResponseTimeout < 0 || c.RetryTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}

	return nil
}

// Scheduler decides when a group request is sent and how long to wait for it.
// It never blocks: every wait is a state plus the clock value at which the
// state was entered, checked again on the next Tick. Clock values are
// milliseconds from a counter that may wrap; elapsed time is computed with
// unsigned subtraction.
//
// Scheduler is not safe for concurrent use.
type Scheduler struct {
	mode            models.RetrievalMode
	intervalMs      uint64
	responseTimeout uint64
	retryTimeout    uint64

	pending   *Config
	started   bool
	autoArmed bool

	state     SchedulerState
	stateTime uint64
}

// NewScheduler returns a scheduler configured with cfg.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{}
	s.Configure(cfg)

	return s
}

// Configure sets the timing policy. From Idle, an auto-starting mode arms a
// retrieval. While a request is pending or in flight the configuration is
// staged and applied once the cycle ends.
func (s *Scheduler) Configure(cfg Config) {
	cfg = cfg.WithDefaults()

	if !s.started {
		s.apply(cfg)

		switch {
		case cfg.Mode.AutoStarts() && s.state == StateIdle:
			s.state = StateWaitConnected
			s.autoArmed = true
		case !cfg.Mode.AutoStarts() && s.autoArmed:
			s.state = StateIdle
			s.autoArmed = false
		}

		return
	}

	if s.inFlight() {
		s.pending = &cfg

		return
	}

	s.apply(cfg)

	if cfg.Mode.AutoStarts() && s.state == StateIdle {
		s.state = StateWaitConnected
	}
}

// Tick advances the state machine. It returns ActionSendRequest exactly once per
// retrieval attempt, on the tick that leaves WaitConnected.
func (s *Scheduler) Tick(now uint64, connected bool) Action {
	s.started = true

	switch s.state {
	case StateIdle:
		return ActionNone

	case StateWaitConnected:
		if !connected {
			return ActionNone
		}

		s.enter(StateWaitResponse, now)

		return ActionSendRequest

	case StateWaitResponse:
		if s.elapsed(now, s.responseTimeout) {
			s.enter(StateWaitRetry, now)
		}

	case StateWaitPeriodic:
		if s.mode != models.RetrievalModePeriodic || s.intervalMs == 0 {
			s.enter(StateIdle, now)

			return ActionNone
		}

		if s.elapsed(now, s.intervalMs) {
			s.enter(StateWaitConnected, now)
		}

	case StateWaitRetry:
		if s.elapsed(now, s.retryTimeout) {
			s.enter(StateWaitConnected, now)
		}
	}

	return ActionNone
}

// NotifyResponseReceived ends the current cycle. It returns false, and changes
// nothing, unless the scheduler is waiting for a response.
func (s *Scheduler) NotifyResponseReceived(now uint64) bool {
	if s.state != StateWaitResponse {
		return false
	}

	s.applyPending()

	if s.mode == models.RetrievalModePeriodic {
		s.enter(StateWaitPeriodic, now)
	} else {
		s.enter(StateIdle, now)
	}

	return true
}

// RequestImmediateUpdate starts a cycle if the scheduler is idle. It returns
// false when a cycle is already in progress.
func (s *Scheduler) RequestImmediateUpdate(now uint64) bool {
	if s.state != StateIdle {
		return false
	}

	s.enter(StateWaitConnected, now)
	s.autoArmed = false

	return true
}

func (s *Scheduler) IsIdle() bool {
	return s.state == StateIdle
}

func (s *Scheduler) State() SchedulerState {
	return s.state
}

// Config returns the active configuration, not a staged one.
func (s *Scheduler) Config() Config {
	return Config{
		Mode:            s.mode,
		Interval:        time.Duration(s.intervalMs) * time.Millisecond,
		ResponseTimeout: time.Duration(s.responseTimeout) * time.Millisecond,
		RetryTimeout:    time.Duration(s.retryTimeout) * time.Millisecond,
	}
}

func (s *Scheduler) enter(state SchedulerState, now uint64) {
	if state == StateIdle || state == StateWaitPeriodic || state == StateWaitRetry {
		s.applyPending()
	}

	s.state = state
	s.stateTime = now
}

func (s *Scheduler) elapsed(now, duration uint64) bool {
	return now-s.stateTime >= duration
}

func (s *Scheduler) inFlight() bool {
	return s.state == StateWaitConnected || s.state == StateWaitResponse
}

func (s *Scheduler) applyPending() {
	if s.pending == nil {
		return
	}

	s.apply(*s.pending)
	s.pending = nil
}

func (s *Scheduler) apply(cfg Config) {
	s.mode = cfg.Mode
	s.intervalMs = millis(cfg.Interval)
	s.responseTimeout = millis(cfg.ResponseTimeout)
	s.retryTimeout = millis(cfg.RetryTimeout)
}

func millis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}

	return uint64(d.Milliseconds())
}
