package export

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// Publisher is one downstream sink for ticks.
type Publisher interface {
	PublishTick(ctx context.Context, update models.StockUpdate) error
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaDialer interface {
	DialContext(ctx context.Context, network, address string) (KafkaConn, error)
}

type KafkaConn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

type RealSleeper struct{}

func (RealSleeper) Sleep(d time.Duration) { time.Sleep(d) }

var _ KafkaConn = (*kafka.Conn)(nil)

// DialerFunc lets a plain function serve as a KafkaDialer.
type DialerFunc func(ctx context.Context, network, address string) (KafkaConn, error)

func (f DialerFunc) DialContext(ctx context.Context, network, address string) (KafkaConn, error) {
	return f(ctx, network, address)
}

// BrokerDialer dials real brokers with d.
func BrokerDialer(d *kafka.Dialer) KafkaDialer {
	return DialerFunc(func(ctx context.Context, network, address string) (KafkaConn, error) {
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
