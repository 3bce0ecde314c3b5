package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/logger"
)

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Provision accounts and move cash in and out",
	}

	cmd.AddCommand(newAccountCreateCommand())
	cmd.AddCommand(newAccountBalanceCommand())
	cmd.AddCommand(newAccountCashCommand(domain.KindDeposit))
	cmd.AddCommand(newAccountCashCommand(domain.KindWithdrawal))

	return cmd
}

// withLedger loads the configuration, connects to the database and runs fn.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := logger.WithContext(cmd.Context(), a.log)
	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := a.connectBrokers(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func newAccountCreateCommand() *cobra.Command {
	var (
		id      string
		balance string
		admin   bool
		blocked bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account := &domain.Account{ID: uuid.New(), IsAdmin: admin, IsBlocked: blocked}
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid account id: %w", err)
				}
				account.ID = parsed
			}
			amount, err := decimal.NewFromString(balance)
			if err != nil || amount.IsNegative() {
				return fmt.Errorf("invalid opening balance %q", balance)
			}
			account.Balance = amount

			return withLedger(cmd, func(ctx context.Context, a *app) error {
				if err := a.accounts.Create(ctx, account); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), account.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&balance, "balance", "0", "opening balance")
	cmd.Flags().BoolVar(&admin, "admin", false, "create an admin account")
	cmd.Flags().BoolVar(&blocked, "blocked", false, "create the account blocked")

	return cmd
}

func newAccountBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Print the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}

			return withLedger(cmd, func(ctx context.Context, a *app) error {
				account, err := a.ledger().GetBalance(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), account.Balance.StringFixed(2))
				return nil
			})
		},
	}
}

// newAccountCashCommand builds the deposit and withdraw commands.
func newAccountCashCommand(kind domain.Kind) *cobra.Command {
	use, short := "deposit", "Deposit cash into an account"
	if kind == domain.KindWithdrawal {
		use, short = "withdraw", "Withdraw cash from an account"
	}

	return &cobra.Command{
		Use:   use + " <account-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}
			amount, err := domain.ParseAmount(args[1])
			if err != nil {
				return err
			}

			return withLedger(cmd, func(ctx context.Context, a *app) error {
				ledger := a.ledger()
				var snap *domain.BalanceSnapshot
				if kind == domain.KindWithdrawal {
					snap, err = ledger.Withdraw(ctx, id, amount)
				} else {
					snap, err = ledger.Deposit(ctx, id, amount)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (transaction %s)\n",
					snap.OldBalance.StringFixed(2), snap.NewBalance.StringFixed(2), snap.TransactionID)
				return nil
			})
		},
	}
}
