package bus

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
)

// LoadTLSConfig returns a TLS configuration trusting the PEM encoded certificates in caFile, or nil if caFile
// is empty.
func LoadTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "messageBus.caFile",
			Value:   caFile,
			Message: err.Error(),
		})
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "messageBus.caFile",
			Value:   caFile,
			Message: "no PEM encoded certificates found",
		})
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
