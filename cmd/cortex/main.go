// Command cortex drives a local CORTEX engine from the shell: store,
// recall, search, verify, and compact against the configured database, one
// subcommand per engine operation. It is the thin host layer CORTEX's
// spec says consumes C1-C12 without defining them — no HTTP router, no
// daemon, per the engine's own non-goals.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/compaction"
	"github.com/cortex-memory/cortex/internal/config"
	"github.com/cortex-memory/cortex/internal/engine"
	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/retrieval"
	"github.com/cortex-memory/cortex/internal/types"
)

var (
	cfg        config.Config
	eng        *engine.Engine
	jsonOutput bool
	tenantID   string
	project    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cortex:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "cortex - local-first sovereign memory engine",
	Long:  `CORTEX stores bitemporal facts in a hash-chained ledger and serves hybrid semantic/lexical recall over them, entirely on the local machine.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		config.ConfigureLogging(cfg)

		ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		cmd.SetContext(ctx)

		eng, err = engine.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			_ = eng.Close(context.Background())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "default", "tenant id to operate against")
	rootCmd.PersistentFlags().StringVar(&project, "project", "default", "project namespace to operate against")

	rootCmd.AddCommand(storeCmd, recallCmd, searchCmd, voteCmd, verifyCmd, compactCmd, statsCmd, snapshotCmd)
}

func printResult(v any) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}

var (
	storeFactType string
	storeSource   string
)

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "store a new fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := eng.Store(cmd.Context(), facts.StoreInput{
			TenantID: tenantID,
			Project:  project,
			Content:  args[0],
			FactType: types.FactType(storeFactType),
			Source:   storeSource,
		})
		if err != nil {
			return err
		}
		printResult(map[string]any{"fact_id": id})
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeFactType, "type", string(types.FactKnowledge), "fact type")
	storeCmd.Flags().StringVar(&storeSource, "source", "cli", "fact source label")
}

var recallLimit int

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "list active facts for the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := eng.Recall(cmd.Context(), tenantID, project, recallLimit, 0)
		if err != nil {
			return err
		}
		printResult(results)
		return nil
	},
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 20, "maximum facts to return")
}

var (
	searchTopK  int
	searchGraph bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "run hybrid semantic+lexical search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := retrieval.Query{
			TenantID:     tenantID,
			Project:      project,
			Text:         args[0],
			TopK:         searchTopK,
			IncludeGraph: searchGraph,
		}
		if searchGraph {
			q.GraphDepth = 2
			q.MaxGraphNodes = 20
		}
		results, err := eng.Search(cmd.Context(), q)
		if err != nil {
			return err
		}
		printResult(results)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "number of results to return")
	searchCmd.Flags().BoolVar(&searchGraph, "graph", false, "attach bounded graph context to each hit")
}

var voteCmd = &cobra.Command{
	Use:   "vote [fact-id] [agent-id] [value]",
	Short: "cast a -1/0/+1 consensus vote on a fact",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var factID int64
		var value int
		if _, err := fmt.Sscanf(args[0], "%d", &factID); err != nil {
			return fmt.Errorf("invalid fact id %q: %w", args[0], err)
		}
		if _, err := fmt.Sscanf(args[2], "%d", &value); err != nil {
			return fmt.Errorf("invalid vote value %q: %w", args[2], err)
		}
		score, tier, err := eng.Vote(cmd.Context(), tenantID, factID, args[1], value)
		if err != nil {
			return err
		}
		printResult(map[string]any{"consensus_score": score, "confidence_tier": tier})
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify the ledger's hash chain and Merkle checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := eng.VerifyLedger(cmd.Context(), tenantID)
		printResult(report)
		return err
	},
}

var (
	compactDryRun bool
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "run dedup/merge-errors/staleness-prune compaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := eng.Compact(cmd.Context(), compaction.Request{
			TenantID: tenantID,
			Project:  project,
			DryRun:   compactDryRun,
		})
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func init() {
	compactCmd.Flags().BoolVar(&compactDryRun, "dry-run", false, "report what would change without writing")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "summarize fact, ledger, and compaction counts for the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := eng.Stats(cmd.Context(), tenantID, project)
		if err != nil {
			return err
		}
		printResult(s)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [name]",
	Short: "export a VACUUM INTO snapshot with ledger metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := eng.ExportSnapshot(cmd.Context(), tenantID, args[0])
		if err != nil {
			return err
		}
		printResult(meta)
		return nil
	},
}
