// Package events provides concrete model.EventSink implementations. The Event
// and EventSink types themselves live in pkg/model (§4.11) to avoid an import
// cycle with the link/node automaton, which must emit events directly.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matsim-go/qsim/pkg/model"
)

// RecordingSink accumulates every event it sees in arrival order, for tests
// and invariant checking (§8). Safe for concurrent OnEvent calls, though the
// engine itself only ever calls it from one partition's goroutine.
type RecordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) OnEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *RecordingSink) Finish() {}

// Events returns a copy of every event recorded so far, in emission order.
func (s *RecordingSink) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ZapSink logs every event at debug level through a structured zap logger,
// for a worker run outside of tests where a human (or a log aggregator) is
// watching. Grounded on the pack's zap usage for server-side structured
// logging (the ambient stack's chosen logging library, §10).
type ZapSink struct {
	logger    *zap.Logger
	partition model.PartitionID
}

func NewZapSink(logger *zap.Logger, partition model.PartitionID) *ZapSink {
	return &ZapSink{logger: logger, partition: partition}
}

func (s *ZapSink) OnEvent(e model.Event) {
	s.logger.Debug("event",
		zap.Int("partition", int(s.partition)),
		zap.String("kind", e.Kind.String()),
		zap.Uint32("time", e.Time),
		zap.String("agent", string(e.Agent)),
		zap.String("vehicle", string(e.Vehicle)),
		zap.String("link", string(e.Link)),
	)
}

func (s *ZapSink) Finish() {
	_ = s.logger.Sync()
}

// MultiSink fans one event out to several sinks in order; Finish calls every
// sink's Finish in order too, collecting nothing (sinks are expected to handle
// their own flush errors internally, matching model.EventSink's signature).
type MultiSink struct {
	sinks []model.EventSink
}

func NewMultiSink(sinks ...model.EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) OnEvent(e model.Event) {
	for _, s := range m.sinks {
		s.OnEvent(e)
	}
}

func (m *MultiSink) Finish() {
	for _, s := range m.sinks {
		s.Finish()
	}
}
