package bus

import (
	"context"

	"github.com/apache/pulsar-client-go/pulsar"
	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
)

type producer interface {
	Send(ctx context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error)
	Close()
}

type PulsarSender struct {
	client   pulsar.Client
	producer producer
}

func NewPulsarSender(cluster configuration.ClusterConfig, caFile string, producerName string) (*PulsarSender, error) {
	if _, err := LoadTLSConfig(caFile); err != nil {
		return nil, err
	}
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:                   cluster.ServiceUrl,
		TLSTrustCertsFilePath: caFile,
		Logger:                pulsarlog.NewLoggerWithLogrus(logrus.StandardLogger()),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating pulsar client for %s", cluster.ServiceUrl)
	}
	p, err := client.CreateProducer(pulsar.ProducerOptions{
		Name:  producerName,
		Topic: cluster.Topic,
	})
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "error creating pulsar producer %s", producerName)
	}
	return &PulsarSender{client: client, producer: p}, nil
}

func (p *PulsarSender) Send(ctx context.Context, msg Message, key string, source string) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	message := &pulsar.ProducerMessage{
		Payload: payload,
		Key:     key,
	}
	if source != "" {
		message.Properties = map[string]string{SourceHeader: source}
	}
	if _, err := p.producer.Send(ctx, message); err != nil {
		return &shippererrors.ErrSink{Sink: Pulsar, Count: 1, Err: err}
	}
	return nil
}

func (p *PulsarSender) Name() string {
	return Pulsar
}

func (p *PulsarSender) Close() error {
	p.producer.Close()
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
