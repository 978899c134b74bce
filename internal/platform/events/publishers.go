package events

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/logger"
)

// Sink is a synchronous delivery target wrapped by Async.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// StreamSink appends events to a Redis stream.
type StreamSink struct {
	rdb    goredis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamSink(rdb goredis.UniversalClient, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream, maxLen: 100_000}
}

func (s *StreamSink) Send(ctx context.Context, event Event) error {
	return s.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: event.Values(),
	}).Err()
}

// LogSink writes events to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.Component("events")}
}

func (s *LogSink) Send(_ context.Context, event Event) error {
	ev := s.log.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type))
	for k, v := range event.Data {
		ev = ev.Str(k, v)
	}
	ev.Msg("Event published")
	return nil
}

// Async buffers events and delivers them from a background goroutine.
// When the buffer is full the event is dropped and logged.
type Async struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	log     zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

func NewAsync(sink Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan Event, buffer),
		timeout: 5 * time.Second,
		log:     logger.Component("events"),
		stop:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, event Event) {
	select {
	case <-a.stop:
		a.log.Warn().Str("event_type", string(event.Type)).Msg("Publisher closed, event dropped")
		return
	default:
	}
	select {
	case a.queue <- event:
	default:
		a.log.Warn().Str("event_type", string(event.Type)).Msg("Event buffer full, event dropped")
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case event := <-a.queue:
			a.deliver(event)
		case <-a.stop:
			// Drain what is already queued.
			for {
				select {
				case event := <-a.queue:
					a.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.sink.Send(ctx, event); err != nil {
		a.log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Failed to deliver event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *Recorder) Send(ctx context.Context, event Event) error {
	r.Publish(ctx, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
