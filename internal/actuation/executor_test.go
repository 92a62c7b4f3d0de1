package actuation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/local/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/types"
)

var errNoAck = errors.New("no ack")

// fakeTransport rejects the first failures sends, or blocks until the context
// ends when block is set.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	block    bool
	sent     []types.Command
}

func (f *fakeTransport) SendCommand(ctx context.Context, cmd types.Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errNoAck
	}
	return nil
}

func levelTarget(value int64) Target {
	return Target{
		Endpoint: 1,
		Entry: mapping.Entry{
			DeviceType:   "level_dimmer",
			DatapointID:  2,
			CapabilityID: "dim",
			Actuation:    mapping.ClassLevel,
		},
		Value: value,
	}
}

func TestExecuteStopsAtFirstSuccess(t *testing.T) {
	for n := 0; n < 6; n++ {
		tr := &fakeTransport{failures: n}
		e := NewExecutor(Options{SettleDelay: time.Millisecond})

		target := levelTarget(127)
		target.LastKnown = int64(100)

		result, err := e.Execute(context.Background(), tr, "dim", target)
		require.NoError(t, err)

		assert.Equal(t, n, result.Index)
		assert.Len(t, result.Attempts, n+1)
		assert.Equal(t, e.Names(mapping.ClassLevel)[n], result.Winner)
	}
}

func TestExecuteExhausted(t *testing.T) {
	tr := &fakeTransport{failures: 100}
	e := NewExecutor(Options{SettleDelay: time.Millisecond})

	target := levelTarget(127)
	target.LastKnown = int64(10)

	_, err := e.Execute(context.Background(), tr, "dim", target)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "dim", exhausted.Capability)
	assert.Equal(t, []string{
		"move-to-level-with-onoff",
		"move-to-level-with-onoff-transition",
		"move-to-level",
		"step",
		"write-current-level",
		"on-then-move-to-level",
	}, exhausted.Attempted)
	assert.Len(t, exhausted.Errs, 6)

	// the last strategy gave up after its first command
	assert.Len(t, tr.sent, 6)
}

func TestExecuteCancelledBeforeFirstAttempt(t *testing.T) {
	tr := &fakeTransport{}
	e := NewExecutor(Options{SettleDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Execute(ctx, tr, "dim", levelTarget(127))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Empty(t, result.Attempts)
	assert.Empty(t, tr.sent)
}

func TestExecuteCancelledMidwayListsOnlyTried(t *testing.T) {
	tr := &fakeTransport{block: true}
	e := NewExecutor(Options{AttemptTimeout: time.Second, SettleDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := e.Execute(ctx, tr, "dim", levelTarget(127))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhausted)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "move-to-level-with-onoff", result.Attempts[0].Strategy)
	assert.Len(t, tr.sent, 1)
}

func TestExecuteLogsFailuresAtDefaultLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	defer logger.SetOutput(os.Stdout)

	tr := &fakeTransport{failures: 100}
	e := NewExecutor(Options{
		SettleDelay: time.Millisecond,
		Logger:      logger.GetLogger("[Executor]", logger.LogLevelInfo),
	})

	target := levelTarget(127)
	target.LastKnown = int64(10)
	_, err := e.Execute(context.Background(), tr, "dim", target)
	require.ErrorIs(t, err, ErrExhausted)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	for _, name := range e.Names(mapping.ClassLevel) {
		assert.Contains(t, out, "strategy "+name+" failed")
	}
}

func TestExecuteUnknownLevelSkipsStep(t *testing.T) {
	tr := &fakeTransport{failures: 100}
	e := NewExecutor(Options{SettleDelay: time.Millisecond})

	_, err := e.Execute(context.Background(), tr, "dim", levelTarget(127))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, exhausted.Errs[3], ErrUnsupported)
	assert.Len(t, tr.sent, 5)
}

func TestExecuteAttemptTimeout(t *testing.T) {
	tr := &fakeTransport{block: true}
	e := NewExecutor(Options{
		AttemptTimeout: 10 * time.Millisecond,
		Strategies: map[mapping.Class][]Strategy{
			mapping.ClassDatapoint: DatapointStrategies(),
		},
	})

	target := Target{
		Entry: mapping.Entry{DatapointID: 1, Type: datapoint.TypeBool, Actuation: mapping.ClassDatapoint},
		Value: true,
	}

	_, err := e.Execute(context.Background(), tr, "onoff", target)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"dp-data-request", "dp-send-data"}, exhausted.Attempted)
	for _, attemptErr := range exhausted.Errs {
		assert.ErrorIs(t, attemptErr, types.ErrCommandTimeout)
	}
}

func TestExecuteUnsupportedClass(t *testing.T) {
	e := NewExecutor(Options{})

	_, err := e.Execute(context.Background(), &fakeTransport{}, "hue", Target{Entry: mapping.Entry{Actuation: "color"}})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDatapointStrategyPayload(t *testing.T) {
	steps, err := DatapointStrategies()[0].Encode(Target{
		Endpoint: 1,
		Entry:    mapping.Entry{DatapointID: 2, Type: datapoint.TypeValue},
		Value:    int64(500),
		Sequence: 0x0102,
	})
	require.NoError(t, err)
	require.Len(t, steps, 1)

	cmd := steps[0].Command
	assert.Equal(t, datapoint.ClusterID, cmd.ClusterID)
	assert.Equal(t, zcl.CommandIdentifier(datapoint.CommandDataRequest), cmd.CommandIdentifier)
	assert.Equal(t, []byte{0x01, 0x02, 0x02, 0x02, 0x00, 0x04, 0x00, 0x00, 0x01, 0xf4}, cmd.Payload)
}

func TestStepStrategyDirection(t *testing.T) {
	target := levelTarget(50)
	target.LastKnown = int64(200)

	steps, err := stepLevel{}.Encode(target)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	cmd, ok := steps[0].Command.Command.(*level.Step)
	require.True(t, ok)
	assert.Equal(t, uint8(stepDown), cmd.StepMode)
	assert.Equal(t, uint8(150), cmd.StepSize)
}

func TestToggleIfNeeded(t *testing.T) {
	steps, err := toggleIfNeeded{}.Encode(Target{Value: true, LastKnown: true})
	require.NoError(t, err)
	assert.Empty(t, steps)

	steps, err = toggleIfNeeded{}.Encode(Target{Value: true, LastKnown: false})
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	_, err = toggleIfNeeded{}.Encode(Target{Value: true})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLevelRejectsOutOfRange(t *testing.T) {
	_, err := moveToLevel{}.Encode(levelTarget(300))
	assert.ErrorIs(t, err, ErrUnsupported)
}
