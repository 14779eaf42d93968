package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	metricspkg "github.com/drblury/handlerflow/internal/runtime/metrics"
)

type fakeTimer struct {
	mu       sync.Mutex
	tags     metricspkg.Tags
	recorded int
	removed  bool
}

func (t *fakeTimer) Record(time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorded++
}

func (t *fakeTimer) Remove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removed = true
}

type fakeCaptor struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeCaptor) Timer(_, _ string, tags metricspkg.Tags) metricspkg.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{tags: tags}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeCaptor) Counter(string, string, metricspkg.Tags) metricspkg.Counter {
	return metricspkg.NopCaptor{}.Counter("", "", metricspkg.Tags{})
}

func (c *fakeCaptor) find(result, exception string) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, timer := range c.timers {
		if timer.tags.Result == result && timer.tags.Exception == exception {
			return timer
		}
	}
	return nil
}

func newCore(t *testing.T, logic message.HandlerFunc, opts ...Option) *Core {
	t.Helper()
	core, err := New("orders", logic, opts...)
	require.NoError(t, err)
	return core
}

func okLogic(msg *message.Message) ([]*message.Message, error) {
	return []*message.Message{message.NewMessage(watermill.NewUUID(), []byte("out"))}, nil
}

func TestNewRequiresLogic(t *testing.T) {
	_, err := New("orders", nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestHandleSuccess(t *testing.T) {
	captor := &fakeCaptor{}
	core := newCore(t, okLogic, WithCaptor(captor))

	outputs, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	snap := core.Snapshot()
	assert.Equal(t, uint64(1), snap.HandleCount)
	assert.Zero(t, snap.ErrorCount)
	assert.Zero(t, snap.ActiveCount)

	success := captor.find("success", "none")
	require.NotNil(t, success)
	assert.Equal(t, 1, success.recorded)
	assert.Equal(t, "orders", success.tags.Name)
	assert.Equal(t, "handler", success.tags.Type)
}

func TestHandleWrapsLogicErrors(t *testing.T) {
	cause := errors.New("boom")
	captor := &fakeCaptor{}
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		return nil, cause
	}, WithCaptor(captor))

	outputs, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	assert.Nil(t, outputs)

	var messagingErr *errspkg.MessagingError
	require.ErrorAs(t, err, &messagingErr)
	assert.Equal(t, "orders", messagingErr.Handler)
	assert.Equal(t, "m-1", messagingErr.MessageUUID)
	assert.ErrorIs(t, err, cause)

	snap := core.Snapshot()
	assert.Equal(t, uint64(1), snap.HandleCount)
	assert.Equal(t, uint64(1), snap.ErrorCount)

	failure := captor.find("failure", "other")
	require.NotNil(t, failure)
	assert.Equal(t, 1, failure.recorded)
}

func TestHandleDoesNotDoubleWrap(t *testing.T) {
	original := &errspkg.MessagingError{Handler: "inner", MessageUUID: "x", Cause: errors.New("boom")}
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		return nil, original
	})

	_, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	assert.Same(t, original, err)
}

func TestHandleTagsFailureByCategory(t *testing.T) {
	captor := &fakeCaptor{}
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		return nil, errspkg.NewUnprocessableEventError("{}", errors.New("bad"))
	}, WithCaptor(captor))

	_, err := core.Handle(message.NewMessage("m-1", []byte("{}")))
	require.Error(t, err)
	require.NotNil(t, captor.find("failure", "validation"))
}

func TestHandleRejectsNilMessageAndPayload(t *testing.T) {
	invoked := false
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		invoked = true
		return nil, nil
	})

	_, err := core.Handle(nil)
	var invalid *errspkg.InvalidMessageError
	require.ErrorAs(t, err, &invalid)

	_, err = core.Handle(&message.Message{UUID: "m-1"})
	require.ErrorAs(t, err, &invalid)

	assert.False(t, invoked)
	snap := core.Snapshot()
	assert.Zero(t, snap.HandleCount)
	assert.Zero(t, snap.ErrorCount)
	assert.Equal(t, uint64(2), snap.InvalidCount)
}

func TestHandleAcceptsEmptyPayload(t *testing.T) {
	core := newCore(t, okLogic)

	_, err := core.Handle(message.NewMessage("m-1", []byte{}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), core.Snapshot().HandleCount)
}

func TestHandleTimersWithoutCaptorIsConfigurationError(t *testing.T) {
	invoked := false
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		invoked = true
		return nil, nil
	}, WithSettings(Settings{CountsEnabled: true, TimersEnabled: true}))

	_, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	var configErr *errspkg.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.False(t, invoked)

	core.RegisterMetricsCaptor(&fakeCaptor{})
	_, err = core.Handle(message.NewMessage("m-2", []byte("in")))
	assert.NoError(t, err)
	assert.True(t, invoked)
}

func TestHandleCountsDisabled(t *testing.T) {
	core := newCore(t, okLogic)
	core.SetCountsEnabled(false)

	_, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	require.NoError(t, err)
	assert.Zero(t, core.Snapshot().HandleCount)
}

func TestHandleConcurrentInvocations(t *testing.T) {
	core := newCore(t, func(msg *message.Message) ([]*message.Message, error) {
		if string(msg.Payload) == "fail" {
			return nil, errors.New("fail")
		}
		return nil, nil
	}, WithCaptor(&fakeCaptor{}))

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(payload string) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = core.Handle(message.NewMessage(watermill.NewUUID(), []byte(payload)))
			}
		}(map[bool]string{true: "fail", false: "ok"}[i%2 == 0])
	}
	wg.Wait()

	snap := core.Snapshot()
	assert.Equal(t, uint64(workers*perWorker), snap.HandleCount)
	assert.Equal(t, uint64(workers/2*perWorker), snap.ErrorCount)
	assert.Zero(t, snap.ActiveCount)
}

func TestHooksAreInvoked(t *testing.T) {
	var started, done, failed int
	var lastCtx JobContext
	hooks := Hooks{
		OnJobStart: func(JobContext) { started++ },
		OnJobDone:  func(ctx JobContext) { done++; lastCtx = ctx },
		OnJobError: func(JobContext, error) { failed++ },
	}

	fail := false
	core := newCore(t, func(*message.Message) ([]*message.Message, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return nil, nil
	}, WithHooks(hooks), WithTopic("orders.in"))

	msg := message.NewMessage("m-1", []byte("in"))
	msg.Metadata.Set(MetadataKeyRetryCount, "3")
	_, _ = core.Handle(msg)
	fail = true
	_, _ = core.Handle(message.NewMessage("m-2", []byte("in")))

	assert.Equal(t, 2, started)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "orders", lastCtx.HandlerName)
	assert.Equal(t, "orders.in", lastCtx.Topic)
	assert.Equal(t, 3, lastCtx.RetryCount)
}

func TestShouldTrackAppendsHistoryToOutputs(t *testing.T) {
	core := newCore(t, okLogic)
	core.SetShouldTrack(true)

	in := message.NewMessage("m-1", []byte("in"))
	in.Metadata.Set(MetadataKeyHistory, "upstream")

	outputs, err := core.Handle(in)
	require.NoError(t, err)
	assert.Equal(t, "upstream,orders", outputs[0].Metadata.Get(MetadataKeyHistory))
	assert.Equal(t, "upstream", in.Metadata.Get(MetadataKeyHistory), "input is not mutated")
}

func TestStatsAndCountsCoupling(t *testing.T) {
	core := newCore(t, okLogic, WithSettings(Settings{}))
	assert.False(t, core.IsCountsEnabled())

	core.SetStatsEnabled(true)
	assert.True(t, core.IsStatsEnabled())
	assert.True(t, core.IsCountsEnabled(), "enabling stats enables counts")
	assert.Equal(t, ManagementOverrides{CountsConfigured: true, StatsConfigured: true}, core.Overrides())

	core.SetCountsEnabled(false)
	assert.False(t, core.IsCountsEnabled())
	assert.False(t, core.IsStatsEnabled(), "disabling counts disables stats")
	assert.False(t, core.Snapshot().FullStatsEnabled)
}

func TestDisablingCountsMarksStatsConfigured(t *testing.T) {
	core := newCore(t, okLogic)
	core.SetCountsEnabled(false)

	overrides := core.Overrides()
	assert.True(t, overrides.CountsConfigured)
	assert.True(t, overrides.StatsConfigured)
	assert.False(t, overrides.LoggingConfigured)

	core.SetCountsEnabled(true)
	assert.True(t, core.Overrides().StatsConfigured, "overrides are never cleared")
}

func TestSetLoggingEnabledMarksOverride(t *testing.T) {
	core := newCore(t, okLogic)
	assert.True(t, core.IsLoggingEnabled())

	core.SetLoggingEnabled(false)
	assert.False(t, core.IsLoggingEnabled())
	assert.True(t, core.Overrides().LoggingConfigured)
}

func TestConfigureMetrics(t *testing.T) {
	core := newCore(t, okLogic)
	core.SetStatsEnabled(true)

	err := core.ConfigureMetrics(nil)
	var invalid *errspkg.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.EqualError(t, err, "'metrics' must not be null")
	assert.False(t, core.Overrides().MetricsConfigured)

	registry := metricspkg.NewRegistry()
	require.NoError(t, core.ConfigureMetrics(registry))
	assert.True(t, core.Overrides().MetricsConfigured)
	assert.True(t, registry.FullStatsEnabled(), "stats setting carries over")

	_, err = core.Handle(message.NewMessage("m-1", []byte("in")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), registry.Snapshot().HandleCount)
}

func TestResetZeroesMetrics(t *testing.T) {
	core := newCore(t, okLogic)
	_, _ = core.Handle(message.NewMessage("m-1", []byte("in")))

	core.Reset()
	assert.Zero(t, core.Snapshot().HandleCount)
}

func TestManagementAttributes(t *testing.T) {
	core := newCore(t, okLogic)

	assert.Equal(t, "message-handler", core.ComponentType())
	assert.Equal(t, DefaultOrder, core.Order())

	core.SetOrder(5)
	core.SetManagedName("ordersHandler")
	core.SetManagedType("service-activator")

	info := core.Info()
	assert.Equal(t, 5, info.Order)
	assert.Equal(t, "ordersHandler", info.ManagedName)
	assert.Equal(t, "service-activator", info.ManagedType)
	assert.Equal(t, "orders", info.Name)
	assert.Equal(t, ComponentType, info.ComponentType)
}

func TestDestroyRemovesTimers(t *testing.T) {
	captor := &fakeCaptor{}
	core := newCore(t, func(msg *message.Message) ([]*message.Message, error) {
		if string(msg.Payload) == "fail" {
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}, WithCaptor(captor))

	_, _ = core.Handle(message.NewMessage("m-1", []byte("fail")))
	require.Len(t, captor.timers, 2)
	require.NotNil(t, captor.find("failure", "downstream"))

	core.Destroy()
	for _, timer := range captor.timers {
		assert.True(t, timer.removed)
	}
	assert.Zero(t, core.Info().Timers)

	_, err := core.Handle(message.NewMessage("m-2", []byte("ok")))
	assert.NoError(t, err, "destroyed cores keep handling")
	assert.Len(t, captor.timers, 2)
}

func TestRegisterMetricsCaptorReplacesTimers(t *testing.T) {
	first := &fakeCaptor{}
	core := newCore(t, okLogic, WithCaptor(first))

	second := &fakeCaptor{}
	core.RegisterMetricsCaptor(second)

	assert.True(t, first.timers[0].removed)
	require.Len(t, second.timers, 1)

	_, err := core.Handle(message.NewMessage("m-1", []byte("in")))
	require.NoError(t, err)
	assert.Equal(t, 1, second.timers[0].recorded)
}
