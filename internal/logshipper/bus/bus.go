// Package bus sends enriched log records to a message bus, keyed by trace id so that the records of one
// conversation keep their order.
package bus

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

const (
	Kafka  = "kafka"
	Pulsar = "pulsar"

	// SourceHeader is the name of the kafka header, or pulsar property, carrying the source label.
	SourceHeader = "source"
)

// Message is the envelope sent for every record.
type Message struct {
	// The record, encoded as JSON
	LogHistory string `json:"log_history"`
	CurrentEnv string `json:"current_env"`
}

// NewMessage encodes rec into a Message. The message shares no state with rec, so rec may be changed afterwards.
func NewMessage(rec record.Record, env string) (Message, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return Message{}, errors.WithStack(err)
	}
	return Message{LogHistory: string(encoded), CurrentEnv: env}, nil
}

func (m Message) Encode() ([]byte, error) {
	encoded, err := json.Marshal(m)
	return encoded, errors.WithStack(err)
}

// Sender delivers messages to a topic on a message bus.
type Sender interface {
	// Send blocks until the message has been accepted by the bus. source may be empty, in which case the message
	// carries no source label.
	Send(ctx context.Context, msg Message, key string, source string) error
	Name() string
	Close() error
}

// NewSender creates a sender for the cluster selected by config.ClusterName.
func NewSender(config configuration.MessageBusConfig, producerName string) (Sender, error) {
	cluster, err := config.Cluster()
	if err != nil {
		return nil, err
	}
	switch config.Type {
	case Kafka:
		tlsConfig, err := LoadTLSConfig(config.CaFile)
		if err != nil {
			return nil, err
		}
		log.Infof("Sending messages to kafka topic %s on %v", cluster.Topic, cluster.Brokers)
		return NewKafkaSender(cluster, tlsConfig), nil
	case Pulsar:
		log.Infof("Sending messages to pulsar topic %s on %s", cluster.Topic, cluster.ServiceUrl)
		return NewPulsarSender(cluster, config.CaFile, producerName)
	default:
		return nil, errors.Errorf("unsupported message bus %s", config.Type)
	}
}
