package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SHARDNODE"

var (
	flagDatadir  string
	flagLogLevel string
	flagLogJSON  bool
	log          zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "shardnode",
	Short: "Run and inspect a sharded chain node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDatadir, "datadir", "d", "data", "directory of the node database")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "level for logging output")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "log JSON lines instead of console output")

	cobra.OnInitialize(initConfig)
}

// initConfig lets SHARDNODE_* environment variables override flags, e.g.
// SHARDNODE_EPOCH_LENGTH for --epoch-length.
func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initLogger() error {
	level, err := zerolog.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
	}
	if flagLogJSON {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.NewConsoleWriter())
	}
	log = log.Level(level).With().Timestamp().Logger()
	return nil
}

func openDB() (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(flagDatadir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("could not open database at %s: %w", flagDatadir, err)
	}
	return db, nil
}
