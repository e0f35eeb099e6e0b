package bus

import (
	"context"
	"crypto/tls"

	"github.com/segmentio/kafka-go"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSender struct {
	writer messageWriter
}

func NewKafkaSender(cluster configuration.ClusterConfig, tlsConfig *tls.Config) *KafkaSender {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cluster.Brokers...),
		Topic:        cluster.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{TLS: tlsConfig},
	}
	return &KafkaSender{writer: writer}
}

func (k *KafkaSender) Send(ctx context.Context, msg Message, key string, source string) error {
	value, err := msg.Encode()
	if err != nil {
		return err
	}
	message := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	if source != "" {
		message.Headers = []kafka.Header{{Key: SourceHeader, Value: []byte(source)}}
	}
	if err := k.writer.WriteMessages(ctx, message); err != nil {
		return &shippererrors.ErrSink{Sink: Kafka, Count: 1, Err: err}
	}
	return nil
}

func (k *KafkaSender) Name() string {
	return Kafka
}

func (k *KafkaSender) Close() error {
	return k.writer.Close()
}
