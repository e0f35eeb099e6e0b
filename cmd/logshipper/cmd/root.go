package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/logshipper/internal/common"
	commonconfig "github.com/G-Research/logshipper/internal/common/config"
	"github.com/G-Research/logshipper/internal/common/logging"
	"github.com/G-Research/logshipper/internal/logshipper"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/logshipper"
	envVariable          string = "CHAT_ENV"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "logshipper",
		SilenceUsage: true,
		Short:        "Ships newline delimited JSON logs from stdin to a document store and a message bus",
		Long: `Reads one JSON record per line from stdin and echoes it to stdout. Records are enriched,
written to the document store in batches and sent to the message bus keyed by trace id.
On end of input, SIGINT or SIGTERM everything read so far is delivered before exiting.`,
		PreRun: func(cmd *cobra.Command, args []string) {
			common.BindCommandlineArguments(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logshipper.Run(config); err != nil {
				logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Log shipper failed")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.Flags().Uint16("metricsPort", 9000, "Port to serve prometheus metrics on; 0 disables the metrics server")
	cmd.Flags().Int("batchSize", 100, "Maximum number of records written to the document store at once")
	cmd.Flags().Int("maxQueueSize", 100000, "Maximum number of records waiting to be written to the document store")
	cmd.Flags().Duration("waitTime", 0, "Write a batch once no record has arrived for this long")
	cmd.Flags().Duration("maxWaitTime", 0, "Write a batch once it has been open for this long")
	cmd.Flags().Bool("useDefaultProcess", true, "Enrich records with trace id components and create_date")

	return cmd
}

func loadConfig() (configuration.LogShipperConfiguration, error) {
	var config configuration.LogShipperConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if err := viper.BindEnv("messageBus.env", envVariable); err != nil {
		return config, err
	}
	if err := common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}

	config.ClampWaitTime()
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	return config, nil
}
