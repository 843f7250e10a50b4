package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"condominio/internal/amqp"
	"condominio/internal/balance"
	"condominio/internal/config"
	"condominio/internal/core"
	"condominio/internal/ledger"
	"condominio/internal/log"
	"condominio/internal/services"
	"condominio/internal/storage"
)

const flagDateFormat = "2006-01-02"

var (
	buildingID  int64
	apartmentID int64
	amountStr   string
	dateStr     string
	description string
	category    string
	rule        string
	fixedStr    string
	percentBP   int64
	method      string
	payer       string
	year        int
	month       int
	expenseID   string
)

var rootCmd = &cobra.Command{
	Use:   "condo",
	Short: "Condominium ledger and common-expense allocation tool",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		_ = godotenv.Load()
		// Keep interactive output clean; only warnings reach stderr.
		log.SetDefault(log.New(log.Config{
			Level:     slog.LevelWarn,
			Component: log.ComponentCLI,
			Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
		}))
	},
}

// openServices wires up storage and services for one command invocation.
func openServices() (*services.AllocationService, *balance.Service, *storage.SQLiteRepository, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		if client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err == nil {
			publisher = client
		}
	}

	allocSvc := services.NewAllocationService(repo, ledger.NewService(repo), publisher)
	return allocSvc, balance.NewService(repo), repo, nil
}

func parseDateFlag(s string) (core.Date, error) {
	if s == "" {
		now := time.Now().UTC()
		return core.NewDate(now.Year(), int(now.Month()), now.Day()), nil
	}
	t, err := time.Parse(flagDateFormat, s)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return core.Date{Time: t}, nil
}

func euros(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

var postExpenseCmd = &cobra.Command{
	Use:   "post-expense",
	Short: "Create an expense and post its charges to the ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		incurredOn, err := parseDateFlag(dateStr)
		if err != nil {
			return err
		}
		e := core.Expense{
			ID:          uuid.New(),
			BuildingID:  buildingID,
			Description: description,
			Category:    category,
			IncurredOn:  incurredOn,
			Rule:        core.DistributionRule(rule),
			PercentBP:   percentBP,
		}
		if amountStr != "" {
			cents, err := core.ParseDecimalToCents(amountStr)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			e.Amount = core.Money{Cents: cents}
		}
		if fixedStr != "" {
			cents, err := core.ParseDecimalToCents(fixedStr)
			if err != nil {
				return fmt.Errorf("invalid fixed amount: %w", err)
			}
			e.FixedAmount = core.Money{Cents: cents}
		}

		entries, err := svc.PostExpense(cmd.Context(), e)
		if err != nil {
			return err
		}
		fmt.Printf("expense %s posted: %d entries\n", e.ID, len(entries))
		for _, entry := range entries {
			fmt.Printf("  apartment %d: %s\n", entry.ApartmentID, euros(entry.Amount))
		}
		return nil
	},
}

var recordPaymentCmd = &cobra.Command{
	Use:   "record-payment",
	Short: "Record an apartment's payment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		paidOn, err := parseDateFlag(dateStr)
		if err != nil {
			return err
		}
		cents, err := core.ParseDecimalToCents(amountStr)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}

		p := core.Payment{
			ID:          uuid.New(),
			BuildingID:  buildingID,
			ApartmentID: apartmentID,
			Amount:      core.Money{Cents: cents},
			PaidOn:      paidOn,
			Method:      method,
			Payer:       payer,
		}
		entry, err := svc.RecordPayment(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Printf("payment %s recorded: %s for apartment %d\n", p.ID, euros(-entry.Amount), p.ApartmentID)
		return nil
	},
}

var reverseExpenseCmd = &cobra.Command{
	Use:   "reverse-expense",
	Short: "Reverse an expense's ledger entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		id, err := uuid.Parse(expenseID)
		if err != nil {
			return fmt.Errorf("invalid expense id: %w", err)
		}
		reversed, err := svc.ReverseExpense(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("reversed %d entries for expense %s\n", reversed, id)
		return nil
	},
}

var collectReserveCmd = &cobra.Command{
	Use:   "collect-reserve",
	Short: "Post the building's reserve fund contribution for a month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		b, err := repo.Queries().GetBuilding(cmd.Context(), buildingID)
		if err != nil {
			return err
		}
		contribution, err := svc.CollectReserve(cmd.Context(), b, core.YearMonth{Year: year, Month: month})
		if err != nil {
			return err
		}
		if contribution.Total == 0 {
			fmt.Printf("nothing collected for %04d-%02d: %s\n", year, month, contribution.Reason)
			return nil
		}
		fmt.Printf("collected %s for %04d-%02d across %d apartments\n",
			euros(contribution.Total), year, month, len(contribution.Shares))
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show a building's monthly balance, backfilling the chain if needed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, balanceSvc, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		mb, err := balanceSvc.Snapshot(cmd.Context(), buildingID, core.YearMonth{Year: year, Month: month})
		if err != nil {
			return err
		}
		fmt.Printf("building %d  %04d-%02d\n", mb.BuildingID, mb.Year, mb.Month)
		fmt.Printf("  charges:              %s\n", euros(mb.TotalCharges))
		fmt.Printf("  payments:             %s\n", euros(mb.TotalPayments))
		fmt.Printf("  previous obligations: %s\n", euros(mb.PreviousObligations))
		fmt.Printf("  carry forward:        %s\n", euros(mb.CarryForward))
		return nil
	},
}

var debtReportCmd = &cobra.Command{
	Use:   "debt-report",
	Short: "List indebted apartments aged by their oldest unpaid charge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, balanceSvc, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		asOf, err := parseDateFlag(dateStr)
		if err != nil {
			return err
		}
		report, err := balanceSvc.DebtReport(cmd.Context(), buildingID, asOf)
		if err != nil {
			return err
		}
		if len(report.Items) == 0 {
			fmt.Printf("no outstanding debt in building %d as of %s\n",
				buildingID, asOf.Format(flagDateFormat))
			return nil
		}
		for _, item := range report.Items {
			fmt.Printf("apartment %d: %s owed, oldest unpaid %s (%d days, bucket %s)\n",
				item.Number, euros(item.Outstanding),
				item.OldestUnpaid.Format(flagDateFormat), item.AgeDays, item.Bucket)
		}
		fmt.Printf("total outstanding: %s\n", euros(report.TotalOutstanding))
		return nil
	},
}

var rebuildBalanceCmd = &cobra.Command{
	Use:   "rebuild-balance",
	Short: "Recompute one apartment's cached balance from its ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, _, repo, err := openServices()
		if err != nil {
			return err
		}
		defer repo.Close()

		ledgerSvc := ledger.NewService(repo)
		cents, err := ledgerSvc.RebuildBalance(cmd.Context(), apartmentID)
		if err != nil {
			return err
		}
		fmt.Printf("apartment %d balance: %s\n", apartmentID, euros(cents))
		return nil
	},
}

func init() {
	now := time.Now()

	rootCmd.AddCommand(postExpenseCmd)
	postExpenseCmd.Flags().Int64Var(&buildingID, "building", 0, "Building ID.")
	postExpenseCmd.Flags().StringVar(&description, "description", "", "Expense description.")
	postExpenseCmd.Flags().StringVar(&category, "category", "", "Expense category.")
	postExpenseCmd.Flags().StringVarP(&amountStr, "amount", "a", "", "Total amount in euros, e.g. 123,45.")
	postExpenseCmd.Flags().StringVar(&fixedStr, "fixed-amount", "", "Per-apartment amount for the fixed rule.")
	postExpenseCmd.Flags().Int64Var(&percentBP, "percent-bp", 0, "Basis points for the percentage rule (250 = 2.50%).")
	postExpenseCmd.Flags().StringVar(&rule, "rule", string(core.RuleByParticipation), "Distribution rule.")
	postExpenseCmd.Flags().StringVarP(&dateStr, "date", "d", "", "Incurred date (YYYY-MM-DD), default today.")
	postExpenseCmd.MarkFlagRequired("building")
	postExpenseCmd.MarkFlagRequired("description")

	rootCmd.AddCommand(recordPaymentCmd)
	recordPaymentCmd.Flags().Int64Var(&buildingID, "building", 0, "Building ID.")
	recordPaymentCmd.Flags().Int64Var(&apartmentID, "apartment", 0, "Apartment ID.")
	recordPaymentCmd.Flags().StringVarP(&amountStr, "amount", "a", "", "Amount in euros, e.g. 123,45.")
	recordPaymentCmd.Flags().StringVarP(&dateStr, "date", "d", "", "Payment date (YYYY-MM-DD), default today.")
	recordPaymentCmd.Flags().StringVar(&method, "method", "", "Payment method.")
	recordPaymentCmd.Flags().StringVar(&payer, "payer", "", "Who paid.")
	recordPaymentCmd.MarkFlagRequired("building")
	recordPaymentCmd.MarkFlagRequired("apartment")
	recordPaymentCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(reverseExpenseCmd)
	reverseExpenseCmd.Flags().StringVar(&expenseID, "id", "", "Expense ID to reverse.")
	reverseExpenseCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(collectReserveCmd)
	collectReserveCmd.Flags().Int64Var(&buildingID, "building", 0, "Building ID.")
	collectReserveCmd.Flags().IntVar(&year, "year", now.Year(), "Target year.")
	collectReserveCmd.Flags().IntVar(&month, "month", int(now.Month()), "Target month.")
	collectReserveCmd.MarkFlagRequired("building")

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().Int64Var(&buildingID, "building", 0, "Building ID.")
	snapshotCmd.Flags().IntVar(&year, "year", now.Year(), "Target year.")
	snapshotCmd.Flags().IntVar(&month, "month", int(now.Month()), "Target month.")
	snapshotCmd.MarkFlagRequired("building")

	rootCmd.AddCommand(debtReportCmd)
	debtReportCmd.Flags().Int64Var(&buildingID, "building", 0, "Building ID.")
	debtReportCmd.Flags().StringVarP(&dateStr, "as-of", "d", "", "Report date (YYYY-MM-DD), default today.")
	debtReportCmd.MarkFlagRequired("building")

	rootCmd.AddCommand(rebuildBalanceCmd)
	rebuildBalanceCmd.Flags().Int64Var(&apartmentID, "apartment", 0, "Apartment ID.")
	rebuildBalanceCmd.MarkFlagRequired("apartment")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
