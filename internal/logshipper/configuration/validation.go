package configuration

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	commonconfig "github.com/G-Research/logshipper/internal/common/config"
	"github.com/G-Research/logshipper/internal/common/shippererrors"
)

const (
	MongoScheme    = "mongodb"
	PostgresScheme = "postgres"
	RedisScheme    = "redis"
)

// DocumentStoreUrl is a parsed DocumentStoreConfig.Url.
type DocumentStoreUrl struct {
	// One of MongoScheme, PostgresScheme or RedisScheme
	Kind       string
	Database   string
	Collection string
	// The url with the collection removed from its path, suitable for passing to the driver
	ConnectionUrl string
	Host          string
	Username      string
	Password      string
}

// Validate checks the field constraints declared on the configuration and then the constraints between fields.
func (c LogShipperConfiguration) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}
	if !c.DocumentStore.Enabled && !c.MessageBus.Enabled {
		return errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "documentStore.enabled",
			Value:   false,
			Message: "at least one of the document store and the message bus must be enabled",
		})
	}
	if c.DocumentStore.Enabled {
		if _, err := ParseDocumentStoreUrl(c.DocumentStore.Url); err != nil {
			return err
		}
	}
	if c.MessageBus.Enabled {
		if _, err := c.MessageBus.Cluster(); err != nil {
			return err
		}
	}
	return nil
}

// ClampWaitTime makes sure the idle timeout can't exceed the maximum age of a batch.
func (c *LogShipperConfiguration) ClampWaitTime() {
	if c.WaitTime > c.MaxWaitTime {
		log.Warnf("waitTime %s is greater than maxWaitTime %s; using %s", c.WaitTime, c.MaxWaitTime, c.MaxWaitTime)
		c.WaitTime = c.MaxWaitTime
	}
}

// Cluster returns the configuration of the cluster selected by ClusterName.
func (c MessageBusConfig) Cluster() (ClusterConfig, error) {
	cluster, ok := c.Clusters[c.ClusterName]
	if !ok {
		// Config keys are case-insensitive, so the cluster names may have been lowercased when loaded
		for name, candidate := range c.Clusters {
			if strings.EqualFold(name, c.ClusterName) {
				cluster, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		names := maps.Keys(c.Clusters)
		slices.Sort(names)
		return ClusterConfig{}, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "messageBus.clusterName",
			Value:   c.ClusterName,
			Message: fmt.Sprintf("no cluster with this name is configured under messageBus.clusters; configured clusters are %v", names),
		})
	}
	if cluster.Topic == "" {
		return ClusterConfig{}, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "messageBus.clusters." + c.ClusterName + ".topic",
			Value:   cluster.Topic,
			Message: "topic is required",
		})
	}
	switch c.Type {
	case "kafka":
		if len(cluster.Brokers) == 0 {
			return ClusterConfig{}, errors.WithStack(&shippererrors.ErrInvalidConfig{
				Name:    "messageBus.clusters." + c.ClusterName + ".brokers",
				Value:   cluster.Brokers,
				Message: "at least one broker is required for kafka",
			})
		}
	case "pulsar":
		if cluster.ServiceUrl == "" {
			return ClusterConfig{}, errors.WithStack(&shippererrors.ErrInvalidConfig{
				Name:    "messageBus.clusters." + c.ClusterName + ".serviceUrl",
				Value:   cluster.ServiceUrl,
				Message: "serviceUrl is required for pulsar",
			})
		}
	}
	return cluster, nil
}

// ParseDocumentStoreUrl works out which kind of document store a url refers to, along with the database and
// collection named by the last two segments of its path. Both must be present.
func ParseDocumentStoreUrl(rawUrl string) (*DocumentStoreUrl, error) {
	invalid := func(msg string) error {
		return errors.WithStack(&shippererrors.ErrInvalidConfig{Name: "documentStore.url", Value: redact(rawUrl), Message: msg})
	}

	u, err := url.Parse(rawUrl)
	if err != nil {
		return nil, invalid(err.Error())
	}

	var kind string
	switch u.Scheme {
	case "mongodb", "mongodb+srv":
		kind = MongoScheme
	case "postgres", "postgresql":
		kind = PostgresScheme
	case "redis", "rediss":
		kind = RedisScheme
	default:
		return nil, invalid("unsupported scheme " + u.Scheme)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return nil, invalid("both database and collection name should be given in the url")
	}
	if kind == RedisScheme {
		if _, err := strconv.Atoi(segments[0]); err != nil {
			return nil, invalid("redis database must be a number")
		}
	}

	connection := *u
	connection.Path = "/" + segments[0]
	connection.RawPath = ""
	password, _ := u.User.Password()
	return &DocumentStoreUrl{
		Kind:          kind,
		Database:      segments[0],
		Collection:    segments[1],
		ConnectionUrl: connection.String(),
		Host:          u.Host,
		Username:      u.User.Username(),
		Password:      password,
	}, nil
}

func redact(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil || u.User == nil {
		return rawUrl
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
