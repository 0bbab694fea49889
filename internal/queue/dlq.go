package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

const (
	DeadLetterQueueName    = "download_jobs_dlq"
	DeadLetterExchangeName = "mediadl_dlq"
	RetryQueueName         = "download_jobs_retry"
	DefaultMaxRetries      = 3

	retryHeader    = "x-retry-count"
	reasonHeader   = "x-failure-reason"
	failedAtHeader = "x-failed-at"
)

// SetupDeadLetterQueue declares the retry and dead letter queues. Expired
// retry messages dead-letter back into the download queue.
func (q *Queue) SetupDeadLetterQueue() error {
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		RetryQueueArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// RetryQueueArgs routes expired retry messages back to the download queue.
// Each message carries its own expiration.
func RetryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": DownloadQueueName,
	}
}

// PublishToRetryQueue schedules another attempt after a backoff, or moves the
// job to the dead letter queue once the retries are used up
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.DownloadJob, retryCount int, reason string) error {
	maxRetries := q.maxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryCount >= maxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, reason)
	}

	delay := calculateBackoffDelay(retryCount)
	headers := amqp.Table{
		retryHeader:  int32(retryCount + 1),
		reasonHeader: reason,
	}

	if err := q.publish(ctx, "", RetryQueueName, job, headers, fmt.Sprintf("%d", delay.Milliseconds())); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithJobID(job.ID).Infof("Job queued for retry #%d in %v", retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue parks a failed job for manual inspection
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.DownloadJob, reason string) error {
	headers := amqp.Table{
		reasonHeader:   reason,
		failedAtHeader: time.Now().Format(time.RFC3339),
	}

	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, job, headers, ""); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.WithJobID(job.ID).Warnf("Job moved to dead letter queue: %s", reason)
	return nil
}

// ConsumeDLQ consumes messages from the dead letter queue for manual processing
func (q *Queue) ConsumeDLQ(ctx context.Context, handler func(*models.DownloadJob, string) error) error {
	msgs, err := q.channel.Consume(
		DeadLetterQueueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register DLQ consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var job models.DownloadJob
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					msg.Nack(false, false)
					continue
				}

				reason, _ := msg.Headers[reasonHeader].(string)
				if err := handler(&job, reason); err != nil {
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}

// RetryFromDLQ puts a dead-lettered job back on the download queue
func (q *Queue) RetryFromDLQ(ctx context.Context, job *models.DownloadJob) error {
	return q.PublishJob(ctx, job)
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

// RetryCount reads the retry header, which AMQP may decode as any integer width
func RetryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

// calculateBackoffDelay: 30s, 1m, 2m, 4m ... capped at 30m
func calculateBackoffDelay(retryCount int) time.Duration {
	if retryCount > 10 {
		retryCount = 10
	}
	delay := 30 * time.Second * (1 << retryCount)

	if delay > 30*time.Minute {
		delay = 30 * time.Minute
	}

	return delay
}
