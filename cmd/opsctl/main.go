package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/advance-ops/backoffice/cmd/opsctl/cli"
	"github.com/advance-ops/backoffice/internal/accounts"
	"github.com/advance-ops/backoffice/internal/app"
	"github.com/advance-ops/backoffice/internal/identity"
	"github.com/advance-ops/backoffice/internal/notify"
	"github.com/advance-ops/backoffice/internal/platform/cache"
	"github.com/advance-ops/backoffice/internal/platform/db"
	"github.com/advance-ops/backoffice/internal/platform/schema"
	"github.com/advance-ops/backoffice/internal/shared"
	"github.com/advance-ops/backoffice/jobs"
	"github.com/advance-ops/backoffice/migrations"
)

// exitError carries a command's exit code through cobra.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func exit(code int) error {
	if code == 0 {
		return nil
	}
	return exitError(code)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator commands for the salary-advance back office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(provisionCmd(), updateProfileCmd(), deprovisionCmd(), resetPasswordCmd(), migrateCmd(), cleanupKeysCmd(), triggerCmd(), queueCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		if code, ok := err.(exitError); ok {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what every database-backed command needs.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func accountsCLI(e *env, withMailer bool) (*cli.AccountsCLI, error) {
	var provider identity.Provider
	mode := accounts.Mode(e.cfg.IdentityMode)
	if mode == accounts.ModeAuthoritative {
		switch e.cfg.IdentityBackend {
		case app.IdentityBackendPostgres:
			provider = identity.NewLocalProvider(e.pool)
		default:
			provider = identity.NewGoTrueClient(e.cfg.IdentityURL, e.cfg.IdentityServiceKey)
		}
	}
	service := accounts.NewService(accounts.ServiceConfig{
		Repo:     accounts.NewRepository(e.pool),
		Identity: provider,
		Mode:     mode,
		Logger:   e.logger,
		Audit:    shared.NewAuditLogger(e.pool),
	})
	var mailer notify.Sender
	if withMailer {
		mailer = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     e.cfg.SMTPHost,
			Port:     e.cfg.SMTPPort,
			From:     e.cfg.SMTPFrom,
			Username: e.cfg.SMTPUsername,
			Password: e.cfg.SMTPPassword,
		})
	}
	return cli.NewAccountsCLI(service, mailer)
}

func provisionCmd() *cobra.Command {
	var opts cli.ProvisionOptions
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create an identity account and its profile row",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			c, err := accountsCLI(e, opts.Notify)
			if err != nil {
				return err
			}
			opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exit(c.ProvisionCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "admin, rh, representative or employee")
	cmd.Flags().StringVar(&opts.OwnerOrgID, "org", "", "owning partner id")
	cmd.Flags().BoolVar(&opts.Notify, "notify", false, "mail the credentials to the account owner")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func updateProfileCmd() *cobra.Command {
	var (
		id     string
		name   string
		active bool
	)
	cmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Change a profile's display name or active flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.UpdateProfileOptions{ID: id, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
			if cmd.Flags().Changed("name") {
				opts.DisplayName = &name
			}
			if cmd.Flags().Changed("active") {
				opts.Active = &active
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			c, err := accountsCLI(e, false)
			if err != nil {
				return err
			}
			return exit(c.UpdateProfileCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().BoolVar(&active, "active", true, "whether the profile is active")
	return cmd
}

func deprovisionCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "deprovision",
		Short: "Delete an identity account and its profile row",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			c, err := accountsCLI(e, false)
			if err != nil {
				return err
			}
			return exit(c.DeprovisionCommand(cmd.Context(), id, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	return cmd
}

func resetPasswordCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Issue a fresh one-time password",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			c, err := accountsCLI(e, false)
			if err != nil {
				return err
			}
			return exit(c.ResetPasswordCommand(cmd.Context(), id, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	return cmd
}

func migrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if down > 0 {
				if err := schema.Down(migrations.FS, cfg.PGDSN, down); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", down)
				return nil
			}
			version, err := schema.Up(migrations.FS, cfg.PGDSN)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead")
	return cmd
}

func cleanupKeysCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-keys",
		Short: "Delete idempotency keys older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			if err := shared.NewIdempotencyStore(e.pool).Cleanup(cmd.Context(), olderThan); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "idempotency keys older than %s removed\n", olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "retention window")
	return cmd
}

func queueClients() (*asynq.Client, *asynq.Inspector, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	opt := cache.QueueOpt(cfg.RedisAddr)
	return asynq.NewClient(opt), asynq.NewInspector(opt), nil
}

func triggerCmd() *cobra.Command {
	var grace int
	cmd := &cobra.Command{
		Use:   "trigger [job]",
		Short: "Enqueue a background job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, inspector, err := queueClients()
			if err != nil {
				return err
			}
			defer client.Close()
			defer inspector.Close()
			info, err := cli.NewJobsCLI(client, inspector).Trigger(cmd.Context(), args[0], grace)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&grace, "grace-hours", 0, "overdue scan grace period")
	cmd.Long = "Supported jobs: " + jobs.TaskOverdueScan
	return cmd
}

func queueCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queue counters and recently dropped tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, inspector, err := queueClients()
			if err != nil {
				return err
			}
			defer client.Close()
			defer inspector.Close()
			return exit(cli.NewJobsCLI(client, inspector).QueueCommand(cmd.Context(), size, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().IntVar(&size, "size", 10, "archived tasks to list")
	return cmd
}
