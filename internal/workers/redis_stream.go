package workers

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/platform/events"
)

const (
	streamBlock   = 5 * time.Second
	streamBackoff = time.Second
	streamBatch   = 16
)

// EventHandler reacts to one domain event read from the stream.
type EventHandler func(ctx context.Context, event events.Event) error

// EventStreamWorker consumes the events stream as part of a consumer group
// and dispatches each entry by type. Entries are acknowledged even when a
// handler fails; notifications are best-effort.
type EventStreamWorker struct {
	rdb      goredis.UniversalClient
	stream   string
	group    string
	consumer string
	handlers map[events.Type][]EventHandler
	fallback EventHandler
	logger   zerolog.Logger
}

func NewEventStreamWorker(rdb goredis.UniversalClient, stream, group, consumer string) *EventStreamWorker {
	return &EventStreamWorker{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handlers: make(map[events.Type][]EventHandler),
		logger:   logger.Component("event_stream"),
	}
}

// Handle registers h for events of type t.
func (w *EventStreamWorker) Handle(t events.Type, h EventHandler) *EventStreamWorker {
	w.handlers[t] = append(w.handlers[t], h)
	return w
}

// HandleAll registers h for every event type, after the typed handlers.
func (w *EventStreamWorker) HandleAll(h EventHandler) *EventStreamWorker {
	w.fallback = h
	return w
}

// Start blocks reading the stream until ctx is cancelled.
func (w *EventStreamWorker) Start(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, w.stream, w.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.logger.Error().Err(err).Str("stream", w.stream).Msg("Failed to create consumer group")
	}

	w.logger.Info().Str("stream", w.stream).Str("group", w.group).Msg("Event stream worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("Event stream worker stopped")
			return
		}

		streams, err := w.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    w.group,
			Consumer: w.consumer,
			Streams:  []string{w.stream, ">"},
			Count:    streamBatch,
			Block:    streamBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-time.After(streamBackoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.Dispatch(ctx, msg.ID, msg.Values)
				if err := w.rdb.XAck(ctx, w.stream, w.group, msg.ID).Err(); err != nil {
					w.logger.Warn().Err(err).Str("entry", msg.ID).Msg("Failed to ack entry")
				}
			}
		}
	}
}

// Dispatch decodes one stream entry and runs its handlers.
func (w *EventStreamWorker) Dispatch(ctx context.Context, entryID string, values map[string]interface{}) {
	event, ok := events.FromValues(values)
	if !ok {
		w.logger.Warn().Str("entry", entryID).Interface("values", values).Msg("Skipping malformed event")
		return
	}

	handlers := w.handlers[event.Type]
	if w.fallback != nil {
		handlers = append(handlers[:len(handlers):len(handlers)], w.fallback)
	}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			w.logger.Error().Err(err).
				Str("entry", entryID).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
		}
	}
}
