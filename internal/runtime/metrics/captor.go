package metrics

import (
	"sync"
	"time"
)

// Metric names and tag values used by handler cores.
const (
	HandlerTimerName        = "handlerflow.message.handler"
	HandlerTimerDescription = "Duration of message handler invocations"

	TypeHandler   = "handler"
	ResultSuccess = "success"
	ResultFailure = "failure"
	ExceptionNone = "none"
	UnknownName   = "unknown"
)

// Tags is the fixed tag set attached to every timer and counter.
type Tags struct {
	Type      string
	Name      string
	Result    string
	Exception string
}

func (t Tags) values() []string {
	return []string{t.Type, t.Name, t.Result, t.Exception}
}

var tagKeys = []string{"type", "name", "result", "exception"}

// Timer records durations for one tag set.
type Timer interface {
	Record(d time.Duration)
	// Remove unregisters the series from the sink. Later Record calls are ignored.
	Remove()
}

// Counter counts events for one tag set.
type Counter interface {
	Increment()
	Remove()
}

// Captor is the metrics sink handler cores and receiver guards report to.
type Captor interface {
	Timer(name, description string, tags Tags) Timer
	Counter(name, description string, tags Tags) Counter
}

// NopCaptor discards everything.
type NopCaptor struct{}

func (NopCaptor) Timer(string, string, Tags) Timer     { return nopMeter{} }
func (NopCaptor) Counter(string, string, Tags) Counter { return nopMeter{} }

type nopMeter struct{}

func (nopMeter) Record(time.Duration) {}
func (nopMeter) Increment()           {}
func (nopMeter) Remove()              {}

// TimerSet owns the timers of a single handler. The success timer is built up
// front; failure timers are built once per exception kind.
type TimerSet struct {
	captor  Captor
	handler string

	mu       sync.Mutex
	success  Timer
	failures map[string]Timer
	removed  bool
}

// NewTimerSet builds the timers for handler on captor. An empty handler name is
// reported as "unknown".
func NewTimerSet(captor Captor, handler string) *TimerSet {
	if handler == "" {
		handler = UnknownName
	}
	set := &TimerSet{
		captor:   captor,
		handler:  handler,
		failures: make(map[string]Timer),
	}
	set.success = captor.Timer(HandlerTimerName, HandlerTimerDescription, Tags{
		Type:      TypeHandler,
		Name:      handler,
		Result:    ResultSuccess,
		Exception: ExceptionNone,
	})
	return set
}

// Success returns the timer for successful invocations.
func (s *TimerSet) Success() Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nopMeter{}
	}
	return s.success
}

// Failure returns the timer for invocations that failed with the given exception kind.
func (s *TimerSet) Failure(exception string) Timer {
	if exception == "" {
		exception = ExceptionNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nopMeter{}
	}
	if timer, ok := s.failures[exception]; ok {
		return timer
	}
	timer := s.captor.Timer(HandlerTimerName, HandlerTimerDescription, Tags{
		Type:      TypeHandler,
		Name:      s.handler,
		Result:    ResultFailure,
		Exception: exception,
	})
	s.failures[exception] = timer
	return timer
}

// Remove unregisters every timer built so far.
func (s *TimerSet) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}
	s.removed = true
	s.success.Remove()
	for exception, timer := range s.failures {
		timer.Remove()
		delete(s.failures, exception)
	}
}

// Len returns the number of live timers.
func (s *TimerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return 0
	}
	return 1 + len(s.failures)
}
