package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type cli struct {
	open       opener
	configPath string
	timeout    time.Duration
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Operate the escrow ledger by hand",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Minute, "overall command timeout")

	root.AddCommand(c.sweepCmd())
	root.AddCommand(c.refundCmd())
	root.AddCommand(c.walletCmd())
	root.AddCommand(c.tokenCmd())
	return root
}

// withLedger opens the ledger, runs fn and prints its result as JSON.
func (c *cli) withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledgerOps) (any, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	l, err := c.open(ctx, c.configPath)
	if err != nil {
		return err
	}
	if l.close != nil {
		defer l.close()
	}

	out, err := fn(ctx, l)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a ledger sweep once",
	}
	for _, job := range []struct{ name, short string }{
		{ports.JobReleaseEscrow, "Release matured escrow to sellers"},
		{ports.JobExpirePending, "Cancel pending transactions past their TTL"},
		{ports.JobPollPayouts, "Poll the payout provider and settle submitted withdrawals"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   job.name,
			Short: job.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withLedger(cmd, func(ctx context.Context, l *ledgerOps) (any, error) {
					return l.jobs.Run(ctx, job.name)
				})
			},
		})
	}
	return cmd
}

func (c *cli) refundCmd() *cobra.Command {
	var (
		staff   string
		comment string
	)
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Move a refund request through its lifecycle",
	}
	cmd.PersistentFlags().StringVar(&staff, "staff", "", "staff user id recorded as the decision maker (required)")
	cmd.PersistentFlags().StringVar(&comment, "comment", "", "comment stored with reject and fail")
	_ = cmd.MarkPersistentFlagRequired("staff")

	type decision func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, comment string) (*domain.RefundRequest, error)
	decisions := []struct {
		name, short string
		run         decision
	}{
		{"processing", "Mark a request as being processed", func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
			return svc.MarkProcessing(ctx, id, staff)
		}},
		{"approve", "Approve a request and move the money back", func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
			return svc.Approve(ctx, id, staff)
		}},
		{"reject", "Reject a request", func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, comment string) (*domain.RefundRequest, error) {
			return svc.Reject(ctx, id, staff, comment)
		}},
		{"fail", "Mark a request as failed", func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, comment string) (*domain.RefundRequest, error) {
			return svc.Fail(ctx, id, staff, comment)
		}},
		{"complete", "Mark an approved request as completed", func(ctx context.Context, svc ports.RefundService, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
			return svc.Complete(ctx, id, staff)
		}},
	}

	for _, d := range decisions {
		cmd.AddCommand(&cobra.Command{
			Use:   d.name + " <refund-id>",
			Short: d.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				refundID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid refund id %q: %w", args[0], err)
				}
				staffID, err := uuid.Parse(staff)
				if err != nil {
					return fmt.Errorf("invalid --staff %q: %w", staff, err)
				}
				return c.withLedger(cmd, func(ctx context.Context, l *ledgerOps) (any, error) {
					return d.run(ctx, l.refunds, refundID, staffID, comment)
				})
			},
		})
	}
	return cmd
}

func (c *cli) walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and provision wallets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <user-id>",
		Short: "Compare a wallet's frozen balance with its active escrow rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			return c.withLedger(cmd, func(ctx context.Context, l *ledgerOps) (any, error) {
				check, err := l.reporting.CheckWallet(ctx, userID)
				if err != nil {
					return nil, err
				}
				if !check.Consistent {
					_ = printJSON(cmd.OutOrStdout(), check)
					return nil, fmt.Errorf("wallet %s is inconsistent", check.WalletID)
				}
				return check, nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <user-id>",
		Short: "Open an empty wallet for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			return c.withLedger(cmd, func(ctx context.Context, l *ledgerOps) (any, error) {
				now := time.Now().UTC()
				w := &domain.Wallet{
					ID:        uuid.New(),
					UserID:    userID,
					Balance:   decimal.Zero,
					Frozen:    decimal.Zero,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := l.wallets.Create(ctx, w); err != nil {
					return nil, fmt.Errorf("create wallet: %w", err)
				}
				return w, nil
			})
		},
	})
	return cmd
}

// issuedToken is the output of the token command.
type issuedToken struct {
	UserID    uuid.UUID `json:"user_id"`
	IsStaff   bool      `json:"is_staff"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *cli) tokenCmd() *cobra.Command {
	var staff bool
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			return c.withLedger(cmd, func(_ context.Context, l *ledgerOps) (any, error) {
				token, expiresAt, err := l.tokens.Generate(userID, staff)
				if err != nil {
					return nil, fmt.Errorf("generate token: %w", err)
				}
				return issuedToken{UserID: userID, IsStaff: staff, Token: token, ExpiresAt: expiresAt}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&staff, "staff", false, "grant staff rights (refund decisions, reports)")
	return cmd
}
