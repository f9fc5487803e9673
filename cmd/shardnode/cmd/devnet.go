package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nightshard/shardnode/cmd/shardnode/devnet"
	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/engine/sequencer"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/module/irrecoverable"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/module/trace"
)

const (
	flagValidators    = "validators"
	flagStake         = "stake"
	flagLocal         = "local"
	flagBlockInterval = "block-interval"
	flagMetricsAddr   = "metrics-addr"
	flagTxPerChunk    = "tx-per-chunk"
	flagCrossShard    = "cross-shard"
	flagSkipChunks    = "skip-chunks"
	flagWithholdParts = "withhold-parts"
	flagSeed          = "seed"
	flagGenesisSeed   = "genesis-seed"
	flagTracing       = "tracing-endpoint"
)

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run a single-process network, playing every validator against one node",
	RunE:  runDevnet,
}

func init() {
	rootCmd.AddCommand(devnetCmd)

	flags := devnetCmd.Flags()
	config.InitializeFlags(flags, config.DefaultProtocolConfig())
	driverCfg := devnet.DefaultDriverConfig()
	flags.Int(flagValidators, 8, "number of validators")
	flags.Uint64(flagStake, 100, "stake of each validator")
	flags.Int(flagLocal, 0, "index of the validator the node runs as")
	flags.Duration(flagBlockInterval, 500*time.Millisecond, "interval between block proposals")
	flags.String(flagMetricsAddr, ":8080", "address serving prometheus metrics, empty to disable")
	flags.Int(flagTxPerChunk, driverCfg.TransactionsPerChunk, "transfers per chunk")
	flags.Float64(flagCrossShard, driverCfg.CrossShardFraction, "share of transfers to another shard")
	flags.Float64(flagSkipChunks, driverCfg.SkipChunkFraction, "share of chunks left unproduced")
	flags.Float64(flagWithholdParts, driverCfg.WithholdPartFraction, "share of chunk parts the node has to fetch")
	flags.Int64(flagSeed, driverCfg.Seed, "seed of the generated load")
	flags.String(flagGenesisSeed, "devnet", "seed of the first epoch's assignment")
	flags.String(flagTracing, "", "OTLP/gRPC endpoint receiving spans, empty to disable tracing")
}

func runDevnet(cmd *cobra.Command, _ []string) error {
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("could not bind flags: %w", err)
	}
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	driverCfg := devnet.DefaultDriverConfig()
	driverCfg.TransactionsPerChunk = viper.GetInt(flagTxPerChunk)
	driverCfg.CrossShardFraction = viper.GetFloat64(flagCrossShard)
	driverCfg.SkipChunkFraction = viper.GetFloat64(flagSkipChunks)
	driverCfg.WithholdPartFraction = viper.GetFloat64(flagWithholdParts)
	driverCfg.Seed = viper.GetInt64(flagSeed)

	validators, err := devnet.NewValidators(viper.GetInt(flagValidators), viper.GetUint64(flagStake))
	if err != nil {
		return err
	}
	local := devnet.AccountName(viper.GetInt(flagLocal))

	db, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("could not close database")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)
	provider, shutdownTracing, err := newTracerProvider(cmd.Context(), viper.GetString(flagTracing), string(local))
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("could not flush traces")
		}
	}()
	tracer := trace.NewTracer(provider)

	node, err := devnet.NewNode(log, cfg, sequencer.DefaultConfig(), collector, tracer, db, local)
	if err != nil {
		return err
	}
	if node.Chain.Head() == nil {
		genesisCfg := validators.Genesis(time.Now().UTC(), []byte(viper.GetString(flagGenesisSeed)))
		genesis := flow.Genesis(cfg.NumShards, epochmgr.FirstEpochID(), genesisCfg.Timestamp)
		err = node.Chain.Bootstrap(genesis, genesisCfg)
		if err != nil {
			return fmt.Errorf("could not bootstrap chain: %w", err)
		}
		genesisID := genesis.ID()
		log.Info().Hex("genesis_id", genesisID[:]).Msg("chain bootstrapped")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	node.Engine.Start(signalerCtx)
	<-node.Engine.Ready()
	if addr := viper.GetString(flagMetricsAddr); addr != "" {
		server := metrics.NewServer(log, addr, registry)
		server.Start(signalerCtx)
		<-server.Ready()
		defer func() { <-server.Done() }()
	}
	defer func() { <-node.Engine.Done() }()

	driver := devnet.NewDriver(log, driverCfg, cfg.NumShards, node, validators, collector, tracer)
	driverErr := make(chan error, 1)
	go func() {
		driverErr <- driver.Run(ctx, viper.GetDuration(flagBlockInterval))
	}()

	select {
	case err = <-errChan:
		cancel()
		<-driverErr
		return fmt.Errorf("unrecoverable error: %w", err)
	case err = <-driverErr:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("devnet driver failed: %w", err)
		}
		log.Info().Msg("devnet stopped")
		return nil
	}
}
