package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"arbwatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSink struct {
	mock.Mock
	name string
}

func (m *MockSink) Name() string { return m.name }

func (m *MockSink) Deliver(ctx context.Context, a model.Alert) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

type blockingSink struct{}

func (blockingSink) Name() string { return "slow" }

func (blockingSink) Deliver(ctx context.Context, _ model.Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

type panickingSink struct{}

func (panickingSink) Name() string { return "broken" }

func (panickingSink) Deliver(context.Context, model.Alert) error { panic("boom") }

type recordingRecorder struct {
	mu     sync.Mutex
	events map[string]model.DeliveryStatus
}

func (r *recordingRecorder) RecordDelivery(sink string, status model.DeliveryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]model.DeliveryStatus)
	}
	r.events[sink] = status
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(t *testing.T, history *History, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	disp, err := NewDispatcher(discardLogger(), history, sinks, opts...)
	require.NoError(t, err)
	return disp
}

func TestDispatcher_RejectsDuplicateSinkNames(t *testing.T) {
	first := &MockSink{name: "webhook"}
	second := &MockSink{name: "webhook"}

	_, err := NewDispatcher(discardLogger(), NewHistory(10), []Sink{first, second})
	assert.ErrorIs(t, err, ErrDuplicateSink)

	_, err = NewDispatcher(discardLogger(), NewHistory(10), []Sink{&MockSink{}})
	assert.Error(t, err)

	first.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestDispatcher_PartialDelivery(t *testing.T) {
	failing := &MockSink{name: "a"}
	failing.On("Deliver", mock.Anything, mock.AnythingOfType("model.Alert")).Return(errors.New("connection refused"))
	working := &MockSink{name: "b"}
	working.On("Deliver", mock.Anything, mock.AnythingOfType("model.Alert")).Return(nil)

	rec := &recordingRecorder{}
	history := NewHistory(10)
	disp := newDispatcher(t, history, []Sink{failing, working}, WithRecorder(rec))

	opp := opportunity("2197.5", "0.05")
	a := disp.Dispatch(context.Background(), opp, rule("1000", "0.01", 300), t0)

	require.Len(t, a.Outcomes, 2)
	assert.Equal(t, model.Failed, a.Outcomes["a"].Status)
	assert.Contains(t, a.Outcomes["a"].Error, "connection refused")
	assert.Equal(t, model.Delivered, a.Outcomes["b"].Status)
	assert.True(t, a.Delivered())
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, t0, a.FiredAt)
	assert.Equal(t, opp, a.Opportunity)

	got := history.List(0)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	assert.Equal(t, model.Failed, rec.events["a"])
	assert.Equal(t, model.Delivered, rec.events["b"])
	failing.AssertExpectations(t)
	working.AssertExpectations(t)
}

func TestDispatcher_AllSinksFailStillRecorded(t *testing.T) {
	failing := &MockSink{name: "a"}
	failing.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("down"))

	history := NewHistory(10)
	disp := newDispatcher(t, history, []Sink{failing})

	a := disp.Dispatch(context.Background(), opportunity("2197.5", "0.05"), rule("1000", "0.01", 300), t0)

	assert.False(t, a.Delivered())
	assert.Equal(t, uint64(1), history.Total())
}

func TestDispatcher_TimeoutAndPanicAreFailures(t *testing.T) {
	working := &MockSink{name: "ok"}
	working.On("Deliver", mock.Anything, mock.Anything).Return(nil)

	disp := newDispatcher(t, NewHistory(10),
		[]Sink{blockingSink{}, panickingSink{}, working},
		WithDeliveryTimeout(50*time.Millisecond),
	)

	start := time.Now()
	a := disp.Dispatch(context.Background(), opportunity("2197.5", "0.05"), rule("1000", "0.01", 300), t0)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.Failed, a.Outcomes["slow"].Status)
	assert.Equal(t, model.Failed, a.Outcomes["broken"].Status)
	assert.Contains(t, a.Outcomes["broken"].Error, "boom")
	assert.Equal(t, model.Delivered, a.Outcomes["ok"].Status)
}

func TestDispatcher_CancelledContextDoesNotAbortDelivery(t *testing.T) {
	working := &MockSink{name: "ok"}
	working.On("Deliver", mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	disp := newDispatcher(t, NewHistory(10), []Sink{working})
	a := disp.Dispatch(ctx, opportunity("2197.5", "0.05"), rule("1000", "0.01", 300), t0)

	assert.Equal(t, model.Delivered, a.Outcomes["ok"].Status)
}

func TestDispatcher_DefaultsFiredAtToClock(t *testing.T) {
	disp := newDispatcher(t, NewHistory(10), nil, WithDispatchClock(func() time.Time { return t0 }))
	a := disp.Dispatch(context.Background(), opportunity("2197.5", "0.05"), rule("1000", "0.01", 300), time.Time{})
	assert.Equal(t, t0, a.FiredAt)
	assert.Empty(t, a.Outcomes)
}

func TestHistory_MostRecentFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(model.Alert{ID: string(rune('a' + i)), FiredAt: t0.Add(time.Duration(i) * time.Second)})
	}

	got := h.List(0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, uint64(5), h.Total())

	limited := h.List(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "e", limited[0].ID)

	filtered := h.List(0, func(a model.Alert) bool { return a.ID != "d" })
	assert.Len(t, filtered, 2)
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(5)
	assert.Empty(t, h.List(10))
	assert.Equal(t, uint64(0), h.Total())
}
