package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/app"
	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/migration"
	"github.com/Additional-Code/raffle/internal/seeder"
	"github.com/Additional-Code/raffle/internal/service/inventory"
)

const stopTimeout = 10 * time.Second

// ErrIntegrity is returned by verify when the audit finds problems.
var ErrIntegrity = errors.New("inventory integrity check failed")

// NewRootCommand builds the root raffle CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "raffle",
		Short:         "Raffle token sales service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newTokensCmd())
	root.AddCommand(newVerifyCmd())

	return root
}

// Execute runs the raffle CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func zapEvents(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.Options(app.Module, fx.WithLogger(zapEvents)))
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the notification worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.Options(app.Worker, fx.WithLogger(zapEvents)))
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			return runWithApp(cmd.Context(), fx.Populate(&mig), func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				version, err := mig.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (version %d)\n", version)
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			return runWithApp(cmd.Context(), fx.Populate(&mig), func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List embedded migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			return runWithApp(cmd.Context(), fx.Populate(&mig), func(ctx context.Context) error {
				statuses, err := mig.Status(ctx)
				if err != nil {
					return err
				}
				printMigrations(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func printMigrations(w io.Writer, statuses []migration.Status) {
	for _, st := range statuses {
		applied := "pending"
		if st.Applied {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%05d  %-32s %s\n", st.Version, st.Name, applied)
	}
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import token codes from a CSV file into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			var (
				seed *seeder.Seeder
				cfg  config.Config
			)
			return runWithApp(cmd.Context(), fx.Populate(&seed, &cfg), func(ctx context.Context) error {
				if path == "" {
					path = cfg.Raffle.TokenFile
				}
				added, err := seed.TokensFromFile(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d tokens added from %s\n", added, path)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "CSV file with a Token column (defaults to RAFFLE_TOKEN_FILE)")
	return cmd
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token pool utilities",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate random token codes into a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			out, _ := cmd.Flags().GetString("out")
			codes, err := seeder.GenerateCodes(count)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := seeder.WriteCSV(w, codes); err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d codes written to %s\n", len(codes), out)
			}
			return nil
		},
	}
	generateCmd.Flags().Int("count", 10000, "Number of distinct codes to generate")
	generateCmd.Flags().String("out", "tokens.csv", "Output file, or - for stdout")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool and sales counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *inventory.Service
			return runWithApp(cmd.Context(), fx.Populate(&svc), func(ctx context.Context) error {
				stats, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}

	cmd.AddCommand(generateCmd, statsCmd)
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Audit token ownership against orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *inventory.Service
			return runWithApp(cmd.Context(), fx.Populate(&svc), func(ctx context.Context) error {
				report, err := svc.Verify(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), report.Stats)
				if report.OK() {
					fmt.Fprintln(cmd.OutOrStdout(), "no issues found")
					return nil
				}
				for _, issue := range report.Issues {
					fmt.Fprintln(cmd.OutOrStdout(), issue.String())
				}
				return fmt.Errorf("%w: %d issues", ErrIntegrity, len(report.Issues))
			})
		},
	}
}

func printStats(w io.Writer, stats inventory.Stats) {
	fmt.Fprintf(w, "tokens: total=%d available=%d pending=%d sold=%d\n", stats.Total, stats.Available, stats.Pending, stats.Sold)
	fmt.Fprintf(w, "buyers: %d\n", stats.Buyers)
	for _, status := range inventory.SortedStatuses(stats) {
		fmt.Fprintf(w, "orders %s: %d\n", status, stats.Orders[status])
	}
}

func runUntilDone(ctx context.Context, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, populate fx.Option, fn func(context.Context) error) error {
	application := fx.New(app.Admin, populate, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
