// Command ctxengine inspects and maintains context engine checkpoints: store
// statistics, TF-IDF search, entry lookups, expiration sweeps, and budget
// dry-runs over the persisted snapshot.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ctxengine/internal/budget"
	"ctxengine/internal/checkpoint"
	"ctxengine/internal/config"
	"ctxengine/internal/entry"
	"ctxengine/internal/logging"
	"ctxengine/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ctxengine",
	Short: "ctxengine - context store inspector and maintenance tool",
	Long: `ctxengine inspects the context store checkpoints written by the planning
pipeline: entry statistics, TF-IDF similarity search, lineage lookups,
expiration sweeps, and context budget dry-runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		return logging.Initialize(cfg.Logging.Dir, logging.Options{
			Debug:      cfg.Logging.Debug,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadStore opens the checkpoint database and restores the latest snapshot
// into a fresh store.
func loadStore() (*store.Store, *checkpoint.CheckpointStore, error) {
	cs, err := checkpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		return nil, nil, err
	}

	snap, id, err := cs.LoadLatest()
	if err != nil {
		cs.Close()
		return nil, nil, err
	}

	st := store.New()
	if err := st.Import(snap); err != nil {
		cs.Close()
		return nil, nil, fmt.Errorf("checkpoint %d is not importable: %w", id, err)
	}

	logger.Debug("restored checkpoint",
		zap.Int64("checkpoint_id", id),
		zap.Int("entries", len(snap)))
	return st, cs, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry statistics for the latest checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, err := loadStore()
		if err != nil {
			return err
		}
		defer cs.Close()

		stats := st.Stats()
		fmt.Printf("Total entries: %d\n", stats.Total)
		for _, t := range entry.AllTypes {
			if n := stats.ByType[t]; n > 0 {
				fmt.Printf("  %-16s %d\n", t, n)
			}
		}

		infos, err := cs.List()
		if err != nil {
			return err
		}
		fmt.Printf("Checkpoints: %d\n", len(infos))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank entries by TF-IDF similarity to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit == 0 {
			limit = cfg.Search.DefaultLimit
		}

		st, cs, err := loadStore()
		if err != nil {
			return err
		}
		defer cs.Close()

		results := st.Search(args[0], limit, cfg.Search.MinScore)
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.4f  %s  [%s]  %s\n", r.Score, r.Entry.ID, r.Entry.Type, r.Entry.Summary)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <entry-id>",
	Short: "Show one entry with its lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, err := loadStore()
		if err != nil {
			return err
		}
		defer cs.Close()

		id := args[0]
		e, ok := st.Get(id)
		if !ok {
			return &store.NotFoundError{ID: id}
		}

		fmt.Printf("id:          %s\n", e.ID)
		fmt.Printf("type:        %s\n", e.Type)
		fmt.Printf("source:      %s\n", e.Source)
		fmt.Printf("created_at:  %s\n", e.CreatedAt.UTC().Format(entry.TimeLayout))
		fmt.Printf("summary:     %s\n", e.Summary)
		fmt.Printf("compressed:  %v\n", e.Compressed)
		fmt.Printf("searchable:  %v\n", e.Searchable)
		if e.TTL > 0 {
			fmt.Printf("ttl:         %s\n", e.TTL)
		}
		if e.Content != nil {
			fmt.Printf("content:     %d bytes\n", len(*e.Content))
		}

		if parent, ok := st.GetParent(id); ok {
			fmt.Printf("parent:      %s\n", parent.ID)
		}
		for _, c := range st.GetChildren(id) {
			fmt.Printf("child:       %s\n", c.ID)
		}
		for _, src := range st.GetSourceEntries(id) {
			fmt.Printf("derived from: %s\n", src.ID)
		}
		for _, d := range st.GetImpactScope(id) {
			fmt.Printf("impacts:     %s\n", d.ID)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove TTL-expired entries and save a new checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, err := loadStore()
		if err != nil {
			return err
		}
		defer cs.Close()

		sw := store.NewSweeper(st, store.SweeperConfig{BatchSize: cfg.Sweeper.BatchSize})
		stats := sw.RunCleanup()
		fmt.Printf("expired: %d, removed: %d\n", stats.Expired, stats.Removed)

		if stats.Removed == 0 {
			return nil
		}

		id, err := cs.Save(st.Export())
		if err != nil {
			return err
		}
		if _, err := cs.Prune(cfg.Checkpoint.Keep); err != nil {
			return err
		}
		fmt.Printf("saved checkpoint %d\n", id)
		return nil
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <entry-id>...",
	Short: "Dry-run an implementation-context budget request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cs, err := loadStore()
		if err != nil {
			return err
		}
		defer cs.Close()

		alloc := budget.New(st, cfg.Budget.EntryLimit)
		grant, err := alloc.RequestContext(args)
		if err != nil {
			return err
		}
		defer alloc.ReleaseContext(grant.ContextID)

		fmt.Printf("context %s: %d requested, %d resolved\n", grant.ContextID, len(args), len(grant.EntryIDs))
		for _, e := range grant.Entries {
			fmt.Printf("  %s  [%s]  %s\n", e.ID, e.Type, e.Summary)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the checkpoint file and print stats on every change",
	RunE: func(cmd *cobra.Command, args []string) error {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()

		if err := watcher.Add(cfg.Checkpoint.Path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.Checkpoint.Path, err)
		}

		printStats := func() {
			st, cs, err := loadStore()
			if err != nil {
				logger.Warn("reload failed", zap.Error(err))
				return
			}
			defer cs.Close()
			stats := st.Stats()
			fmt.Printf("entries: %d, by type: %v\n", stats.Total, stats.ByType)
		}
		printStats()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					logger.Debug("checkpoint changed", zap.String("event", ev.String()))
					printStats()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watch error", zap.Error(err))
			case <-sig:
				fmt.Println("stopping watch")
				return nil
			}
		}
	},
}

// exitCode maps the engine's typed errors onto distinct exit codes so shell
// callers can branch on the failure class.
func exitCode(err error) int {
	var (
		validationErr *entry.ValidationError
		relErr        *store.RelationshipError
		notFoundErr   *store.NotFoundError
		boundsErr     *budget.EntryBoundsError
	)
	switch {
	case errors.As(err, &validationErr):
		return 2
	case errors.As(err, &relErr):
		return 3
	case errors.As(err, &notFoundErr):
		return 4
	case errors.As(err, &boundsErr):
		return 5
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ctxengine.yaml", "path to config file")
	searchCmd.Flags().Int("limit", 0, "maximum results (0 = config default)")

	rootCmd.AddCommand(statsCmd, searchCmd, getCmd, sweepCmd, requestCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
