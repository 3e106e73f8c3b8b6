package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/photobook/internal/app"
	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/config"
	"github.com/dharsanguruparan/photobook/internal/logging"
	"github.com/dharsanguruparan/photobook/internal/persistence"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "photobook: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand shares.
type cli struct {
	stateBackend string
	env          *app.Env
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "photobook",
		Short: "Compose and order photobooks",
		Long: `photobook lays photos out on the pages of a printed product, keeps the
composition in the configured state backend and orders the finished book.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.stateBackend != "" {
				cfg.StateBackend = c.stateBackend
			}
			c.env = app.New(cfg, logging.NewWithWriter(os.Stderr, cfg.AppEnv, cfg.LogLevel))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.env != nil {
				c.env.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&c.stateBackend, "state-backend", "", "Where the composition is kept: file, redis or s3")
	cmd.AddCommand(
		c.newCatalogCmd(),
		c.newComposeCmd(),
		c.newShowCmd(),
		c.newEditCmd(),
		c.newOrderCmd(),
		newDevCmd(),
	)
	return cmd
}

// open fetches the catalog and builds a store over the configured state
// backend. With restore set, the saved composition is loaded first.
func (c *cli) open(ctx context.Context, restore bool) (*composition.Store, *persistence.Adapter, error) {
	cat, err := c.env.API.FetchCatalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch catalog: %w", err)
	}
	adapter, err := c.env.Persistence(ctx)
	if err != nil {
		return nil, nil, err
	}
	store := composition.NewStore(cat, adapter, c.env.Logger)
	if !restore {
		return store, adapter, nil
	}
	if _, err := store.Restore(ctx); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, errors.New("no saved composition, run compose first")
		}
		return nil, nil, err
	}
	return store, adapter, nil
}

func newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the photobook services from source",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
