package bus

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

func TestNewMessage(t *testing.T) {
	rec := record.Record{"trace_id": "u1:s1:2", "turn": int64(2), "msg": "hi"}
	msg, err := NewMessage(rec, "prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", msg.CurrentEnv)
	assert.JSONEq(t, `{"trace_id": "u1:s1:2", "turn": 2, "msg": "hi"}`, msg.LogHistory)

	// Later changes to the record don't leak into the message
	rec["msg"] = "changed"
	assert.NotContains(t, msg.LogHistory, "changed")

	encoded, err := msg.Encode()
	require.NoError(t, err)
	var envelope map[string]string
	require.NoError(t, json.Unmarshal(encoded, &envelope))
	assert.Equal(t, map[string]string{"log_history": msg.LogHistory, "current_env": "prod"}, envelope)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSender_Send(t *testing.T) {
	writer := &fakeWriter{}
	sender := &KafkaSender{writer: writer}
	msg := Message{LogHistory: `{"a":1}`, CurrentEnv: "dev"}

	require.NoError(t, sender.Send(context.Background(), msg, "u1:s1:1", "web"))
	require.NoError(t, sender.Send(context.Background(), msg, "u1:s1:2", ""))
	require.Len(t, writer.messages, 2)

	assert.Equal(t, []byte("u1:s1:1"), writer.messages[0].Key)
	assert.JSONEq(t, `{"log_history": "{\"a\":1}", "current_env": "dev"}`, string(writer.messages[0].Value))
	assert.Equal(t, []kafka.Header{{Key: "source", Value: []byte("web")}}, writer.messages[0].Headers)
	assert.Empty(t, writer.messages[1].Headers)

	require.NoError(t, sender.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSender_Error(t *testing.T) {
	sender := &KafkaSender{writer: &fakeWriter{err: errors.New("leader not available")}}
	err := sender.Send(context.Background(), Message{}, "k", "")
	require.Error(t, err)
	var sinkErr *shippererrors.ErrSink
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, "kafka", sinkErr.Sink)
}

type fakeProducer struct {
	messages []*pulsar.ProducerMessage
	err      error
	closed   bool
}

func (p *fakeProducer) Send(_ context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.messages = append(p.messages, msg)
	return nil, nil
}

func (p *fakeProducer) Close() {
	p.closed = true
}

func TestPulsarSender_Send(t *testing.T) {
	producer := &fakeProducer{}
	sender := &PulsarSender{producer: producer}
	msg := Message{LogHistory: `{}`, CurrentEnv: "dev"}

	require.NoError(t, sender.Send(context.Background(), msg, "u1:s1:1", "web"))
	require.NoError(t, sender.Send(context.Background(), msg, "u1:s1:1", ""))
	require.Len(t, producer.messages, 2)
	assert.Equal(t, "u1:s1:1", producer.messages[0].Key)
	assert.Equal(t, map[string]string{"source": "web"}, producer.messages[0].Properties)
	assert.Nil(t, producer.messages[1].Properties)

	producer.err = errors.New("producer closed")
	assert.True(t, shippererrors.IsSinkError(sender.Send(context.Background(), msg, "k", "")))

	require.NoError(t, sender.Close())
	assert.True(t, producer.closed)
}

func writeTestCA(t *testing.T) string {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestLoadTLSConfig(t *testing.T) {
	tlsConfig, err := LoadTLSConfig("")
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	tlsConfig, err = LoadTLSConfig(writeTestCA(t))
	require.NoError(t, err)
	require.NotNil(t, tlsConfig)
	assert.NotNil(t, tlsConfig.RootCAs)
}

func TestLoadTLSConfig_Invalid(t *testing.T) {
	_, err := LoadTLSConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.True(t, shippererrors.IsInvalidConfig(err))

	notPem := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(notPem, []byte("not a certificate"), 0o600))
	_, err = LoadTLSConfig(notPem)
	assert.True(t, shippererrors.IsInvalidConfig(err))
}

func TestNewSender(t *testing.T) {
	config := configuration.MessageBusConfig{
		Type:        Kafka,
		ClusterName: "local",
		Clusters: map[string]configuration.ClusterConfig{
			"local": {Brokers: []string{"localhost:9092"}, Topic: "chat-logs"},
		},
	}
	sender, err := NewSender(config, "test")
	require.NoError(t, err)
	assert.Equal(t, "kafka", sender.Name())
	assert.NoError(t, sender.Close())

	config.ClusterName = "prod"
	_, err = NewSender(config, "test")
	assert.True(t, shippererrors.IsInvalidConfig(err))

	config.ClusterName = "local"
	config.CaFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = NewSender(config, "test")
	assert.True(t, shippererrors.IsInvalidConfig(err))
}
