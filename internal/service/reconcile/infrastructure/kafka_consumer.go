package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"atlas/internal/pkg/logger"
	"atlas/internal/service/checkout/domain"
	"atlas/internal/service/reconcile/application"
)

// TaskConsumerAdapter drives the reconcile service from the Kafka topic.
type TaskConsumerAdapter struct {
	reader  *kafka.Reader
	service *application.Service
	wg      sync.WaitGroup
	stopped bool
}

func NewTaskConsumerAdapter(reader *kafka.Reader, service *application.Service) *TaskConsumerAdapter {
	return &TaskConsumerAdapter{reader: reader, service: service}
}

// NewTaskReader builds the kafka reader for the reconcile topic.
func NewTaskReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Start begins consuming. Long-running; returns when ctx is cancelled or
// Stop is called.
func (a *TaskConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.L().Info().Str("topic", a.reader.Config().Topic).Msg("reconcile consumer started")
		for {
			if a.stopped {
				return
			}
			// FetchMessage instead of ReadMessage so the offset commits
			// only after the task is handled.
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.L().Info().Msg("reconcile consumer shutting down")
					return
				}
				logger.L().Error().Err(err).Msg("could not read reconcile message, retrying")
				time.Sleep(time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.L().Error().Err(err).Msg("failed to commit reconcile offset")
			}
		}
	}()
}

// Stop drains the consumer.
func (a *TaskConsumerAdapter) Stop() {
	a.stopped = true
	a.reader.Close()
	a.wg.Wait()
	logger.L().Info().Msg("reconcile consumer stopped")
}

func (a *TaskConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) {
	var task domain.ReconcileTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		// Poison message: log and move on so the partition keeps flowing.
		logger.L().Error().Err(err).Int64("offset", msg.Offset).Msg("undecodable reconcile task dropped")
		return
	}
	if err := a.service.HandleTask(ctx, task); err != nil {
		// Offset is committed regardless; the sweeper backstops anything
		// that slips through here.
		logger.L().Error().Err(err).Str("task_id", task.TaskID).Msg("reconcile task handling failed")
	}
}
