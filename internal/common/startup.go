package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"
)

const envPrefix = "LOGSHIPPER"

// LoadConfig reads config.yaml from defaultPath, then merges each of the user specified files on top of it in order.
// Environment variables prefixed with LOGSHIPPER_ override file values, e.g. LOGSHIPPER_BATCHSIZE.
func LoadConfig(config interface{}, defaultPath string, userSpecifiedConfigs []string, hooks ...viper.DecoderConfigOption) error {
	viper.SetConfigName("config")
	viper.AddConfigPath(defaultPath)
	if err := viper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading default config from %s", defaultPath)
	}
	log.Infof("Read base config from %s", viper.ConfigFileUsed())

	for _, configPath := range userSpecifiedConfigs {
		if strings.TrimSpace(configPath) == "" {
			continue
		}
		viper.SetConfigFile(configPath)
		if err := viper.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "merging config from %s", configPath)
		}
		log.Infof("Merged config from %s", configPath)
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	return errors.WithStack(viper.Unmarshal(config, hooks...))
}

// BindCommandlineArguments binds all flags parsed so far to viper, so that they take precedence over config files.
func BindCommandlineArguments(flags *pflag.FlagSet) {
	if err := viper.BindPFlags(flags); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// ConfigureLogging sets up logrus to write to stderr, keeping stdout free for the echoed input stream,
// and counts log lines per level in prometheus.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		log.WithError(err).Warn("Failed to register prometheus logging hook")
		return
	}
	log.AddHook(hook)
}

// ServeMetrics exposes the default prometheus registry on the given port and returns a function that
// shuts the server down. A port of zero disables the server.
func ServeMetrics(port uint16) (shutdown func()) {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		log.Infof("Serving metrics on :%d/metrics", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("Stopping metrics server")
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Metrics server did not shut down cleanly")
		}
	}
}
