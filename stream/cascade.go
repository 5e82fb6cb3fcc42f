// Package stream turns store changes into DynamoDB-style stream records and
// routes them to cascade hooks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/store"
)

// HookFunc reacts to one stream record. Returning a *store.Conflict reports
// a cascade that was skipped; any other error aborts processing.
type HookFunc func(ctx context.Context, record events.DynamoDBEventRecord) error

type route struct {
	table     string
	eventName string
}

// Handler routes stream records to cascade hooks by table and event name.
type Handler struct {
	hooks  map[route][]HookFunc
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hooks:  make(map[route][]HookFunc),
		logger: logger,
	}
}

// On registers a hook for records of eventName (INSERT, MODIFY or REMOVE) on table.
// Hooks for the same route run in registration order.
func (h *Handler) On(table, eventName string, hook HookFunc) {
	r := route{table: table, eventName: eventName}
	h.hooks[r] = append(h.hooks[r], hook)
}

// HandleEvent processes a batch of stream records in order.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) ([]*store.Conflict, error) {
	var conflicts []*store.Conflict
	for _, record := range event.Records {
		cs, err := h.processRecord(ctx, record)
		conflicts = append(conflicts, cs...)
		if err != nil {
			return conflicts, err
		}
	}
	return conflicts, nil
}

// Drain processes records from q until it is empty. ctx should be the context
// returned by Capture, so writes made by hooks are queued and cascade in turn.
func (h *Handler) Drain(ctx context.Context, q *Queue) ([]*store.Conflict, error) {
	var conflicts []*store.Conflict
	for {
		record, ok := q.Next()
		if !ok {
			break
		}
		cs, err := h.processRecord(ctx, record)
		conflicts = append(conflicts, cs...)
		if err != nil {
			return conflicts, err
		}
	}
	if err := q.Err(); err != nil {
		return conflicts, fmt.Errorf("record changes: %w", err)
	}
	return conflicts, nil
}

// processRecord runs every hook registered for the record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) ([]*store.Conflict, error) {
	table := TableName(record.EventSourceArn)
	hooks := h.hooks[route{table: table, eventName: record.EventName}]
	if len(hooks) == 0 {
		return nil, nil
	}

	h.logger.Debug("processing cascade",
		"eventID", record.EventID,
		"table", table,
		"event", record.EventName,
		"id", RecordKey(record),
	)

	var conflicts []*store.Conflict
	for _, hook := range hooks {
		err := hook(ctx, record)
		if err == nil {
			continue
		}
		var conflict *store.Conflict
		if errors.As(err, &conflict) {
			h.logger.Warn("cascade skipped",
				"eventID", record.EventID,
				"entityType", conflict.EntityType,
				"entity", conflict.ID,
				"reason", conflict.Reason,
			)
			conflicts = append(conflicts, conflict)
			continue
		}
		h.logger.Error("failed to process record",
			"eventID", record.EventID,
			"table", table,
			"version", getNumberAttr(record.Change.NewImage, store.AttrVersion),
			"error", err,
		)
		return conflicts, fmt.Errorf("record %s: %w", record.EventID, err)
	}
	return conflicts, nil
}
