package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/driver"
	"github.com/itohio/goapwm/pkg/sample"
)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// WithClock overrides the time source used by Run, Init and Status.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// WithMapping replaces the calibrated estimator.
func WithMapping(m sample.Mapping) Option {
	return func(l *Loop) {
		l.mapping = m
	}
}

// Loop is the closed-loop duty cycle controller.
//
// Converter state, timing and counters are owned by the goroutine calling
// Init/Step/Run. Other goroutines observe the loop through Snapshot and
// Status, and change it through Configure and RequestFault; both are
// picked up at the start of the next Step.
type Loop struct {
	cfg     config.ControlConfig
	in      driver.AnalogInput
	out     driver.PWMOutput
	sampler *sample.Sampler
	mapping sample.Mapping
	model   Model
	ctrl    Controller
	log     *slog.Logger
	now     func() time.Time

	phase    Phase
	state    State
	timing   Timing
	counters Counters
	raw      driver.RawSample
	measured bool
	faultErr error
	started  time.Time

	// accepted is the latest validated configuration, including one still pending.
	cfgMu    sync.Mutex
	accepted config.ControlConfig
	pending  atomic.Pointer[config.ControlConfig]

	faultReq atomic.Pointer[error]
	snapshot atomic.Pointer[Snapshot]

	callbacks []func(Snapshot)
	cbMu      sync.RWMutex
}

// New creates a control loop. cfg must have been validated.
func New(cfg *config.Config, in driver.AnalogInput, out driver.PWMOutput, opts ...Option) *Loop {
	l := &Loop{
		cfg:      cfg.Control,
		accepted: cfg.Control,
		in:       in,
		out:      out,
		sampler:  sample.NewSampler(in),
		mapping:  sample.NewEstimator(cfg.Calibration),
		model:    NewModel(cfg.Efficiency),
		ctrl:     NewController(cfg.Control),
		log:      slog.Default(),
		now:      time.Now,
		state: State{
			DutyCycle: cfg.Control.Clamp(cfg.Control.InitialDutyCycle),
		},
	}
	for _, opt := range opts {
		opt(l)
	}

	l.publish(time.Time{})
	return l
}

// Init initializes the analog input, retrying up to InitRetries times.
// When every attempt fails the loop faults and the returned error wraps ErrUnrecoverable.
func (l *Loop) Init() error {
	switch l.phase {
	case PhaseRunning:
		return nil
	case PhaseFaulted:
		return fmt.Errorf("%w: %w", ErrFaulted, l.faultErr)
	}

	var err error
	for attempt := 0; attempt <= l.cfg.InitRetries; attempt++ {
		if err = l.in.Init(); err == nil {
			break
		}
		l.log.Warn("analog input init failed", "attempt", attempt+1, "retries", l.cfg.InitRetries, "error", err)
	}
	if err != nil {
		l.fault(fmt.Errorf("analog input init: %w", err))
		return l.faultErr
	}

	l.phase = PhaseRunning
	l.started = l.now()
	l.log.Info("control loop initialized",
		"duty_cycle", l.state.DutyCycle,
		"target_efficiency", l.cfg.TargetEfficiency,
		"sample_rate", l.cfg.SampleRate,
	)
	l.publish(l.started)
	return nil
}

// Step runs one loop iteration at the given instant: apply pending
// configuration, measure when the sample period elapsed, adjust when the
// adjustment interval elapsed, and command the PWM output.
//
// Transient measurement and output failures are absorbed. Step returns an
// error only when the loop is not running; after a fault that error wraps
// ErrFaulted.
func (l *Loop) Step(now time.Time) error {
	switch l.phase {
	case PhaseUninitialized:
		return ErrNotInitialized
	case PhaseFaulted:
		return fmt.Errorf("%w: %w", ErrFaulted, l.faultErr)
	}

	if reason := l.faultReq.Swap(nil); reason != nil {
		l.fault(*reason)
		return fmt.Errorf("%w: %w", ErrFaulted, l.faultErr)
	}
	if next := l.pending.Swap(nil); next != nil {
		l.applyConfig(*next)
	}

	l.counters.Cycles++

	if now.Sub(l.timing.LastMeasurement) >= l.cfg.SampleRate {
		l.timing.LastMeasurement = now
		if err := l.measure(); err != nil {
			l.counters.MeasurementFailures++
			l.counters.ConsecutiveMeasurementFailures++
			l.measured = false
			l.state.DutyCycle = l.cfg.Clamp(l.cfg.NeutralDutyCycle)
			l.state.Efficiency = 0
			l.log.Warn("measurement failed, using neutral duty cycle",
				"error", err,
				"duty_cycle", l.state.DutyCycle,
				"consecutive", l.counters.ConsecutiveMeasurementFailures,
			)

			if budget := l.cfg.MaxMeasurementFailures; budget > 0 && l.counters.ConsecutiveMeasurementFailures >= budget {
				l.fault(fmt.Errorf("%d consecutive measurement failures: %w", budget, err))
				return fmt.Errorf("%w: %w", ErrFaulted, l.faultErr)
			}
		} else {
			l.counters.ConsecutiveMeasurementFailures = 0
			l.measured = true
		}
	}

	if duty, ok := l.ctrl.Adjust(l.state.DutyCycle, l.state.Efficiency, l.cfg.TargetEfficiency, now, &l.timing.LastAdjustment); ok {
		l.log.Debug("duty cycle adjusted",
			"from", l.state.DutyCycle,
			"to", duty,
			"efficiency", l.state.Efficiency,
		)
		l.state.DutyCycle = duty
		l.counters.Adjustments++
	}

	if err := l.out.SetDutyCycle(l.state.DutyCycle); err != nil {
		l.counters.OutputFailures++
		l.counters.ConsecutiveOutputFailures++
		l.log.Warn("failed to set duty cycle",
			"error", err,
			"duty_cycle", l.state.DutyCycle,
			"consecutive", l.counters.ConsecutiveOutputFailures,
		)

		if budget := l.cfg.MaxOutputFailures; budget > 0 && l.counters.ConsecutiveOutputFailures >= budget {
			l.fault(fmt.Errorf("%d consecutive output failures: %w", budget, err))
			return fmt.Errorf("%w: %w", ErrFaulted, l.faultErr)
		}
	} else {
		l.counters.ConsecutiveOutputFailures = 0
		if l.measured {
			l.state.Initialized = true
		}
	}

	l.publish(now)
	return nil
}

// Run initializes the loop if needed and steps it every LoopInterval until
// ctx is done or the loop faults. The returned error is ctx.Err() on
// shutdown and wraps ErrFaulted otherwise.
func (l *Loop) Run(ctx context.Context) error {
	if l.phase == PhaseUninitialized {
		if err := l.Init(); err != nil {
			return fmt.Errorf("%w: %w", ErrFaulted, err)
		}
	}

	ticker := time.NewTicker(l.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		if err := l.Step(l.now()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Idle blocks while the loop is faulted, waking every FaultIdleInterval,
// until ctx is done. No control action is taken.
func (l *Loop) Idle(ctx context.Context) error {
	interval := l.cfg.FaultIdleInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.log.Debug("controller faulted, idling", "reason", l.faultErr)
		}
	}
}

// RequestFault asks the loop to fault at the start of its next Step.
// It is safe to call from any goroutine.
func (l *Loop) RequestFault(reason error) {
	if reason == nil {
		reason = errors.New("fault requested")
	}
	l.faultReq.CompareAndSwap(nil, &reason)
}

// Configure validates a runtime update against the latest accepted
// configuration and queues it for the next cycle. Rejected updates and
// updates sent to a faulted loop change nothing.
func (l *Loop) Configure(u config.Update) (config.ControlConfig, error) {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()

	if snap := l.snapshot.Load(); snap != nil && snap.Phase == PhaseFaulted {
		return l.accepted, ErrFaulted
	}

	next, err := l.accepted.Apply(u)
	if err != nil {
		l.log.Warn("configuration update rejected", "error", err)
		return l.accepted, err
	}

	l.accepted = next
	l.pending.Store(&next)
	l.log.Info("configuration update accepted",
		"duty_cycle_min", next.DutyCycleMin,
		"duty_cycle_max", next.DutyCycleMax,
		"target_efficiency", next.TargetEfficiency,
		"sample_rate", next.SampleRate,
	)
	return next, nil
}

// Config returns the latest accepted control configuration.
func (l *Loop) Config() config.ControlConfig {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	return l.accepted
}

// Snapshot returns the state published at the end of the last cycle.
func (l *Loop) Snapshot() Snapshot {
	return *l.snapshot.Load()
}

// Status returns the current snapshot with uptime. secure reports whether
// the caller reached the loop over an authenticated channel.
func (l *Loop) Status(secure bool) Status {
	snap := l.Snapshot()
	st := Status{Snapshot: snap, Secure: secure}
	if !snap.Started.IsZero() {
		st.Uptime = l.now().Sub(snap.Started)
	}
	return st
}

// Err returns the fault reason, or nil while the loop is not faulted.
func (l *Loop) Err() error {
	snap := l.snapshot.Load()
	if snap == nil || snap.Phase != PhaseFaulted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnrecoverable, snap.Fault)
}

// OnUpdate registers a callback invoked with every published snapshot.
// Callbacks run on the loop goroutine and must return quickly.
func (l *Loop) OnUpdate(callback func(Snapshot)) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// measure acquires a reading and refreshes params and efficiency.
// On error the state is left for the caller to fall back.
func (l *Loop) measure() error {
	raw, err := l.sampler.Acquire()
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	l.raw = raw

	params, err := l.mapping.Estimate(raw)
	if err != nil {
		return fmt.Errorf("estimate raw %d: %w", raw, err)
	}

	l.state.Params = params
	l.state.Efficiency = l.model.Efficiency(params, l.state.DutyCycle)
	l.counters.Measurements++
	return nil
}

// applyConfig switches to a validated configuration between cycles.
func (l *Loop) applyConfig(next config.ControlConfig) {
	l.cfg = next
	l.ctrl = NewController(next)
	l.state.DutyCycle = next.Clamp(l.state.DutyCycle)
	l.log.Debug("configuration applied", "duty_cycle", l.state.DutyCycle)
}

// fault enters the terminal state: the output is forced to the minimum
// duty cycle and estimated values are cleared.
func (l *Loop) fault(reason error) {
	if l.phase == PhaseFaulted {
		return
	}
	if !errors.Is(reason, ErrUnrecoverable) {
		reason = fmt.Errorf("%w: %w", ErrUnrecoverable, reason)
	}

	l.phase = PhaseFaulted
	l.faultErr = reason
	l.state = State{
		DutyCycle:   l.cfg.DutyCycleMin,
		Initialized: l.state.Initialized,
	}

	l.raw = 0
	if err := l.out.SetDutyCycle(l.cfg.DutyCycleMin); err != nil {
		l.log.Error("failed to force minimum duty cycle", "error", err)
	}

	l.log.Error("control loop faulted", "reason", reason, "duty_cycle", l.cfg.DutyCycleMin)
	l.publish(l.now())
}

// publish stores a snapshot and notifies callbacks.
func (l *Loop) publish(at time.Time) {
	snap := Snapshot{
		Phase:    l.phase,
		State:    l.state,
		Raw:      l.raw,
		At:       at,
		Started:  l.started,
		Counters: l.counters,
		Config:   l.cfg,
	}
	if l.faultErr != nil {
		snap.Fault = l.faultErr.Error()
	}
	l.snapshot.Store(&snap)

	if at.IsZero() {
		return
	}

	l.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(l.callbacks))
	copy(callbacks, l.callbacks)
	l.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(snap)
		}
	}
}
