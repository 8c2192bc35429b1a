// Package cxdb provides a sink that persists records to cxdb as SystemMessage items.
package cxdb

import (
	"context"
	"encoding/json"
	"fmt"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
	"github.com/strongdm/jstrack/pkg/jstrack"
)

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBSinkOption configures the CXDB sink.
type CXDBSinkOption func(*cxdbSinkConfig)

type cxdbSinkConfig struct {
	contextID    *uint64
	orphanLabels []string
	clientTag    string
}

// WithContextID appends every batch to an existing context instead of
// creating one per batch.
func WithContextID(id uint64) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.contextID = &id
	}
}

// WithOrphanLabels sets labels for per-batch contexts.
func WithOrphanLabels(labels []string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.orphanLabels = labels
	}
}

// WithClientTag sets the client tag for per-batch contexts.
func WithClientTag(tag string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.clientTag = tag
	}
}

// cxdbSink writes records to cxdb as SystemMessage items.
type cxdbSink struct {
	client       CXDBClient
	contextID    *uint64
	orphanLabels []string
	clientTag    string
}

// NewCXDBSink creates a sink that writes to cxdb.
func NewCXDBSink(client CXDBClient, opts ...CXDBSinkOption) jstrack.Sink {
	cfg := &cxdbSinkConfig{
		orphanLabels: []string{"error", "browser"},
		clientTag:    "jstrack",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &cxdbSink{
		client:       client,
		contextID:    cfg.contextID,
		orphanLabels: cfg.orphanLabels,
		clientTag:    cfg.clientTag,
	}
}

// Write appends one turn per record, in batch order. Without a configured
// context ID, each batch gets its own context.
func (s *cxdbSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	var contextID uint64
	isOrphan := false

	if s.contextID != nil {
		contextID = *s.contextID
	} else {
		head, err := s.client.CreateContext(ctx, 0)
		if err != nil {
			return fmt.Errorf("create batch context: %w", err)
		}
		contextID = head.ContextID
		isOrphan = true
	}

	for i, r := range records {
		// cxdb expects context metadata on the first turn only.
		item := s.buildConversationItem(r, isOrphan && i == 0)

		payload, err := cxdbclient.EncodeMsgpack(item)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		req := &cxdbclient.AppendRequest{
			ContextID:      contextID,
			ParentTurnID:   0,
			TypeID:         cxdtypes.TypeIDConversationItem,
			TypeVersion:    cxdtypes.TypeVersionConversationItem,
			Payload:        payload,
			IdempotencyKey: r.ID,
		}

		if _, err := s.client.AppendTurn(ctx, req); err != nil {
			return fmt.Errorf("append turn %d of %d: %w", i+1, len(records), err)
		}
	}

	return nil
}

// buildConversationItem creates a canonical ConversationItem from an ErrorRecord.
func (s *cxdbSink) buildConversationItem(r jstrack.ErrorRecord, withMetadata bool) *cxdtypes.ConversationItem {
	// Build title: "KIND: truncated_message"
	title := r.Kind.String()
	if msg := r.Message(); msg != "" {
		const maxMsgLen = 80
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		title = title + ": " + msg
	}

	// Truncate title to 100 chars
	if len(title) > 100 {
		title = title[:97] + "..."
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: r.Timestamp.UnixMilli(),
		ID:        r.ID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   title,
			Content: buildRecordDetails(r),
		},
	}

	if withMetadata {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.orphanLabels,
			ClientTag: s.clientTag,
		}
	}

	return item
}

// buildRecordDetails encodes the full ErrorRecord as JSON for SystemMessage.Content.
func buildRecordDetails(r jstrack.ErrorRecord) string {
	details := map[string]any{
		"id":          r.ID,
		"type":        int(r.Kind),
		"kind":        r.Kind.String(),
		"intr":        r.Interpretation,
		"desc":        r.Description,
		"fingerprint": r.Fingerprint,
	}

	if r.HasStack() {
		details["stack"] = r.StackTrace
	}
	if r.Host != nil {
		details["host"] = r.Host
	}

	jsonBytes, err := json.Marshal(details)
	if err != nil {
		// Description may hold a value JSON cannot encode; fall back to text.
		details["desc"] = r.Message()
		if jsonBytes, err = json.Marshal(details); err != nil {
			return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
		}
	}
	return string(jsonBytes)
}

// Flush is a no-op for the cxdb sink (writes are synchronous).
func (s *cxdbSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the cxdb sink.
func (s *cxdbSink) Close() error {
	return nil
}
