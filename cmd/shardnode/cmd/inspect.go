package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nightshard/shardnode/cmd/shardnode/devnet"
	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/engine/sequencer"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/module/trace"
)

var flagAccounts []string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the head, the finalized block and shard state of a node database",
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	config.InitializeFlags(inspectCmd.Flags(), config.DefaultProtocolConfig())
	inspectCmd.Flags().StringSliceVar(&flagAccounts, "account", nil, "accounts to print the balances of, as shard:name")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("could not bind flags: %w", err)
	}
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	accounts, err := parseAccounts(flagAccounts, cfg.NumShards)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := devnet.NewNode(log, cfg, sequencer.DefaultConfig(), metrics.NewNoopCollector(), trace.NewNoopTracer(), db, "")
	if err != nil {
		return err
	}
	head := node.Chain.Head()
	if head == nil {
		return errors.New("database holds no bootstrapped chain")
	}
	finalized, err := node.Chain.Finalized()
	if err != nil {
		return fmt.Errorf("could not read finalized block: %w", err)
	}
	finalizedID := finalized.ID()
	log.Info().
		Uint64("head_height", head.Height).
		Hex("head_id", head.BlockID[:]).
		Uint64("head_score", head.Score).
		Uint64("finalized_height", finalized.Header.Height).
		Hex("finalized_id", finalizedID[:]).
		Msg("chain")

	queues, err := node.Router.Queues(head.BlockID)
	if err != nil {
		return fmt.Errorf("could not read receipt queues: %w", err)
	}
	for shard := flow.ShardID(0); uint32(shard) < cfg.NumShards; shard++ {
		root, err := node.Reader.StateRoot(head.BlockID, shard)
		if err != nil {
			return fmt.Errorf("could not read state root of shard %d: %w", shard, err)
		}
		log.Info().
			Uint32("shard", uint32(shard)).
			Hex("state_root", root[:]).
			Int("pending_receipts", len(queues.Pending[shard])).
			Msg("shard")
	}

	for _, account := range accounts {
		root, err := node.Reader.StateRoot(head.BlockID, account.shard)
		if err != nil {
			return fmt.Errorf("could not read state root of shard %d: %w", account.shard, err)
		}
		balance, err := node.Runtime.Balance(account.shard, root, account.name)
		if err != nil {
			return fmt.Errorf("could not read balance of %s: %w", account.name, err)
		}
		log.Info().
			Uint32("shard", uint32(account.shard)).
			Str("account", string(account.name)).
			Uint64("balance", balance).
			Msg("balance")
	}
	return nil
}

type shardAccount struct {
	shard flow.ShardID
	name  flow.AccountID
}

func parseAccounts(values []string, numShards uint32) ([]shardAccount, error) {
	accounts := make([]shardAccount, 0, len(values))
	for _, value := range values {
		var shard uint32
		var name string
		_, err := fmt.Sscanf(value, "%d:%s", &shard, &name)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q, expected shard:name: %w", value, err)
		}
		if shard >= numShards {
			return nil, fmt.Errorf("invalid account %q: shard out of range", value)
		}
		accounts = append(accounts, shardAccount{shard: flow.ShardID(shard), name: flow.AccountID(name)})
	}
	return accounts, nil
}
