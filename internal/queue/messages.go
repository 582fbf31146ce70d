package queue

import (
	"context"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphcrawl/backend/pkg/store"
)

// QueueCrawlMsg asks a worker to crawl Terms. CorrelationID names the run
// and its snapshot.
type QueueCrawlMsg struct {
	Message       string   `json:"message,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	Terms         []string `json:"terms"`
	MaxRecords    int      `json:"max_records,omitempty"`
}

// NewCorrelationID returns a fresh run id.
func NewCorrelationID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate correlation id: %w", err)
	}
	return id, nil
}

func decodeCrawlMsg(body []byte) (QueueCrawlMsg, error) {
	var msg QueueCrawlMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode crawl message: %w", err)
	}
	if msg.CorrelationID == "" {
		return msg, fmt.Errorf("crawl message has no correlation id")
	}
	if msg.MaxRecords < 0 {
		return msg, fmt.Errorf("crawl message has negative max_records")
	}
	return msg, nil
}

// EnqueueCrawl records a queued run for terms, publishes it and returns its
// correlation id. runs may be nil when no bookkeeping is wanted.
func EnqueueCrawl(ctx context.Context, pub Publisher, runs store.RunStore, terms []string, maxRecords int, note string) (string, error) {
	id, err := NewCorrelationID()
	if err != nil {
		return "", err
	}
	if runs != nil {
		if err := runs.CreateRun(ctx, id, terms); err != nil {
			return "", err
		}
	}
	body, err := json.Marshal(QueueCrawlMsg{
		Message:       note,
		CorrelationID: id,
		Terms:         terms,
		MaxRecords:    maxRecords,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode crawl message: %w", err)
	}
	if err := pub.Publish(ctx, CrawlQueue, body, nil); err != nil {
		return "", err
	}
	return id, nil
}
