package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/store"
)

// RecoverStaleRuns requeues runs left in running by a worker that died
// without finishing them.
func RecoverStaleRuns(ctx context.Context, pub Publisher, runs store.RunStore, olderThan time.Duration) error {
	stale, err := runs.StaleRuns(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to get stale runs: %w", err)
	}

	if len(stale) == 0 {
		logger.Debug("[Queue] No stale runs found")
		return nil
	}

	logger.Info("[Queue] Found stale runs", "count", len(stale))

	for _, run := range stale {
		if err := runs.RequeueRun(ctx, run.ID); err != nil {
			logger.Error("[Queue] Failed to reset run status", "correlation_id", run.ID, "err", err)
			continue
		}

		body, err := json.Marshal(QueueCrawlMsg{
			Message:       "Recovered stale run",
			CorrelationID: run.ID,
			Terms:         run.Terms,
		})
		if err != nil {
			logger.Error("[Queue] Failed to marshal queue message", "correlation_id", run.ID, "err", err)
			continue
		}

		if err := pub.Publish(ctx, CrawlQueue, body, nil); err != nil {
			logger.Error("[Queue] Failed to republish run", "correlation_id", run.ID, "err", err)
			continue
		}

		logger.Info("[Queue] Recovered stale run", "correlation_id", run.ID)
	}

	return nil
}

// HandleProcessingError moves a failed delivery to the retry queue of
// queueName, or to its dead-letter queue once it has been retried
// maxRetries times. The delivery is acked when the move succeeded and
// requeued otherwise.
func HandleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	target := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if retries >= maxRetries {
		target = queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", target)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	if err := pub.Publish(ctx, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to move message", "queue", target, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
