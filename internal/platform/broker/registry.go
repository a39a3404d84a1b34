package broker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"eventsWs/internal/modules/realtime/application/port"
)

// StartKafkaForwarders runs one forwarder per topic inside group and returns how many started.
func StartKafkaForwarders(
	ctx context.Context,
	group *errgroup.Group,
	publisher port.EventPublisher,
	brokers []string,
	groupID string,
	topics []string,
) int {
	if len(brokers) == 0 {
		// kafka.NewReader panics on an empty broker list; ingest is optional.
		return 0
	}
	started := 0
	for _, topic := range topics {
		forwarder := NewKafkaForwarder(brokers, groupID, topic, publisher)
		group.Go(func() error {
			return forwarder.Run(ctx)
		})
		started++
		slog.Info("kafka forwarder started", slog.String("topic", topic), slog.String("group", groupID))
	}
	return started
}
