package actuation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/types"
)

const (
	DefaultAttemptTimeout = 2 * time.Second
	DefaultSettleDelay    = 300 * time.Millisecond
)

type Options struct {
	AttemptTimeout time.Duration
	SettleDelay    time.Duration
	// Strategies replaces the built-in lists for the classes it names.
	Strategies map[mapping.Class][]Strategy
	Logger     logger.Logger
}

// Attempt records one strategy tried during a write.
type Attempt struct {
	Strategy string
	Err      error
	Duration time.Duration
}

type Result struct {
	Winner   string
	Index    int
	Attempts []Attempt
}

// Executor runs the strategies of a class strictly in order, each once, until
// one is acknowledged. It holds no per-device state and may be shared.
type Executor struct {
	strategies map[mapping.Class][]Strategy
	timeout    time.Duration
	sequence   uint32
	logger     logger.Logger
}

func NewExecutor(opts Options) *Executor {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger("[Executor]", logger.LogLevelInfo)
	}

	strategies := DefaultStrategies(opts.SettleDelay)
	for class, list := range opts.Strategies {
		strategies[class] = list
	}

	return &Executor{
		strategies: strategies,
		timeout:    opts.AttemptTimeout,
		logger:     opts.Logger,
	}
}

// Names lists the strategies of a class in trial order.
func (e *Executor) Names(class mapping.Class) []string {
	var ret []string
	for _, s := range e.strategies[class] {
		ret = append(ret, s.Name())
	}

	return ret
}

// Execute writes target through the strategies of its entry's class. On
// success the winning strategy is logged and returned; when all fail the
// error is an *ExhaustedError naming every attempted strategy.
func (e *Executor) Execute(ctx context.Context, transport Transport, capability string, target Target) (Result, error) {
	strategies := e.strategies[target.Entry.Actuation]
	if len(strategies) == 0 {
		return Result{}, fmt.Errorf("%w: no strategies for class %q", ErrUnsupported, target.Entry.Actuation)
	}

	var result Result
	exhausted := &ExhaustedError{Capability: capability}

	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			e.logger.Info("%v: stopped before %v, tried %v: %v", capability, s.Name(), exhausted.Attempted, err)
			return result, fmt.Errorf("%v: %w", capability, err)
		}

		target.Sequence = uint16(atomic.AddUint32(&e.sequence, 1))

		started := time.Now()
		err := e.attempt(ctx, transport, s, target)
		result.Attempts = append(result.Attempts, Attempt{Strategy: s.Name(), Err: err, Duration: time.Since(started)})

		if err == nil {
			result.Winner = s.Name()
			result.Index = i
			e.logger.Info("%v: strategy %v (%d/%d) accepted", capability, s.Name(), i+1, len(strategies))
			return result, nil
		}

		e.logger.Info("%v: strategy %v failed: %v", capability, s.Name(), err)
		exhausted.Attempted = append(exhausted.Attempted, s.Name())
		exhausted.Errs = append(exhausted.Errs, err)
	}

	e.logger.Warn("%v", exhausted)
	return result, exhausted
}

func (e *Executor) attempt(ctx context.Context, transport Transport, s Strategy, target Target) error {
	steps, err := s.Encode(target)
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	for _, st := range steps {
		if st.Delay > 0 {
			timer := time.NewTimer(st.Delay)
			select {
			case <-timer.C:
			case <-attemptCtx.Done():
				timer.Stop()
				return timeoutOr(attemptCtx.Err())
			}
		}

		if err := transport.SendCommand(attemptCtx, st.Command); err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrCommandTimeout) {
				return fmt.Errorf("%w: %v", types.ErrCommandTimeout, err)
			}
			return err
		}
	}

	return nil
}

func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrCommandTimeout
	}

	return err
}
