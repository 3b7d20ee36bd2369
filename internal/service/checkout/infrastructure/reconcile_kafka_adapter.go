package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"atlas/internal/pkg/logger"
	"atlas/internal/service/checkout/domain"
)

// ReconcileKafkaAdapter publishes reconcile tasks to the reconcile topic.
// Keyed by order id so retries for the same order stay in partition order.
type ReconcileKafkaAdapter struct {
	writer *kafka.Writer
}

func NewReconcileKafkaAdapter(writer *kafka.Writer) *ReconcileKafkaAdapter {
	return &ReconcileKafkaAdapter{writer: writer}
}

// NewReconcileWriter builds the kafka writer for the reconcile topic.
func NewReconcileWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (a *ReconcileKafkaAdapter) Produce(ctx context.Context, task domain.ReconcileTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal reconcile task")
	}
	err = a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.OrderID),
		Value: payload,
	})
	if err != nil {
		return errors.Wrap(err, "write reconcile task")
	}
	logger.Ctx(ctx).Info().Str("task_id", task.TaskID).Str("order_id", task.OrderID).Msg("reconcile task emitted")
	return nil
}
