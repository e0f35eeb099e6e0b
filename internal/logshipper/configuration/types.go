package configuration

import (
	"time"
)

type LogShipperConfiguration struct {
	// Maximum number of records held in memory waiting to be written to the document store
	MaxQueueSize int `validate:"gte=1,lte=100000000"`
	// Maximum number of records written to the document store in one call
	BatchSize int `validate:"gte=1,lte=10000"`
	// A batch is written once no record has arrived for this long
	WaitTime time.Duration `validate:"gt=0"`
	// A batch is written once it has been open for this long, however fast records arrive
	MaxWaitTime time.Duration `validate:"gt=0"`
	// If true records are enriched with correlation fields and create_date, otherwise they are stored as read
	UseDefaultProcess bool
	// Regular expression with the named groups uid, session_id and turn used to decompose trace ids
	TraceIdPattern string `validate:"required"`
	// Number of decomposed trace ids to remember
	TraceIdCacheSize int `validate:"gte=1"`
	// Number of consecutive failed reads of the input after which it is treated as closed; 0 retries forever
	MaxConsecutiveReadErrors int `validate:"gte=0"`
	// Port to expose prometheus metrics on; 0 disables the metrics server
	MetricsPort uint16
	DocumentStore DocumentStoreConfig
	MessageBus    MessageBusConfig
}

type DocumentStoreConfig struct {
	Enabled bool
	// e.g. mongodb://localhost:27017/logs/history, postgres://user@localhost/logs/history or redis://localhost:6379/0/history.
	// The last two path segments name the database and the collection, table or stream.
	Url string
	// Number of times a failed write is retried before the pipeline gives up
	MaxRetries uint
	// Delay before the first retry, doubled on each subsequent attempt
	RetryBackoff   time.Duration
	ConnectTimeout time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
}

type MessageBusConfig struct {
	Enabled bool
	// Either kafka or pulsar
	Type        string `validate:"oneof=kafka pulsar"`
	ClusterName string
	Clusters    map[string]ClusterConfig
	// CA certificate used to verify the brokers. TLS is disabled if empty.
	CaFile string
	// Environment tag sent with every message as current_env
	Env string `validate:"required"`
	// Number of workers sending messages; messages with the same trace id always go through the same worker
	Workers int `validate:"gte=1"`
	// Number of messages each worker can have waiting
	QueueSize int `validate:"gte=1"`
	// If true messages are dropped when a worker's queue is full rather than blocking ingestion
	DropWhenFull bool
	SendTimeout  time.Duration `validate:"gt=0"`
}

type ClusterConfig struct {
	// Kafka broker addresses
	Brokers []string
	// Pulsar service url, e.g. pulsar://localhost:6650
	ServiceUrl string
	Topic      string
}
