package export

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes every tick to a topic keyed by ticker, so each
// ticker's ticks stay ordered within one partition.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// NewKafkaWriter returns the production writer configuration.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

func (k *KafkaPublisher) PublishTick(ctx context.Context, update models.StockUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.Symbol),
		Value: payload,
	})
}

// Close flushes buffered messages.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

const (
	defaultTopicWait = 5 * time.Second
	initialTopicPoll = 100 * time.Millisecond
	maxTopicPoll     = time.Second
)

type TopicCreator struct {
	logger  *zap.Logger
	dialer  KafkaDialer
	sleeper Sleeper
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, sleeper Sleeper) *TopicCreator {
	return &TopicCreator{
		logger:  logger,
		dialer:  dialer,
		sleeper: sleeper,
	}
}

// Create makes sure the topic exists. Failures are logged, not returned: the
// async writer keeps retrying once the broker becomes reachable.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topicName string, partitions int) {
	var conn KafkaConn
	var err error

	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		tc.logger.Warn("Failed to dial brokers", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		tc.logger.Warn("Failed to get controller", zap.Error(err))
		return
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		tc.logger.Warn("Failed to dial controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.String("topic", topicName))
	}

	tc.waitForTopic(ctx, conn, topicName)
}

// waitForTopic polls the partition metadata with a doubling delay until the
// topic shows up, ctx is done, or the wait budget is spent. The budget is the
// time left on ctx, or defaultTopicWait when ctx has no deadline.
func (tc *TopicCreator) waitForTopic(ctx context.Context, conn KafkaConn, topicName string) {
	budget := defaultTopicWait
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}

	delay := initialTopicPoll
	for waited := time.Duration(0); waited < budget; waited += delay {
		if ctx.Err() != nil {
			return
		}
		found, err := conn.ReadPartitions(topicName)
		if err == nil && len(found) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(found)))
			return
		}

		if waited > 0 {
			delay = min(delay*2, maxTopicPoll)
		}
		tc.sleeper.Sleep(delay)
	}
	tc.logger.Warn("Timed out waiting for topic", zap.String("topic", topicName), zap.Duration("waited", budget))
}
