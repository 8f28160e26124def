package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger-core/internal/app"
	"github.com/odyssey-erp/ledger-core/internal/currency"
	"github.com/odyssey-erp/ledger-core/internal/integration"
	"github.com/odyssey-erp/ledger-core/internal/platform/db"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"chart of accounts", seedAccounts},
		{"fiscal periods", seedPeriods},
		{"account mappings", seedMappings},
		{"currencies", seedCurrencies},
		{"currency policy", func(ctx context.Context, pool *pgxpool.Pool) error {
			return seedPolicy(ctx, pool, logger)
		}},
		{"products", seedProducts},
	}
	for _, step := range steps {
		logger.Info("seeding", slog.String("step", step.name))
		if err := step.fn(ctx, pool); err != nil {
			logger.Error("seed failed", slog.String("step", step.name), slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger.Info("seed complete", slog.String("at", time.Now().Format(time.RFC3339)))
}

// =============================================================================
// ACCOUNTING
// =============================================================================

func seedAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	accounts := []struct {
		code, name, accType, parent string
	}{
		{"1000", "Assets", "ASSET", ""},
		{"1100", "Cash and Bank", "ASSET", "1000"},
		{"1110", "Cash", "ASSET", "1100"},
		{"1120", "Bank - Local Currency", "ASSET", "1100"},
		{"1130", "Bank - USD", "ASSET", "1100"},
		{"1200", "Receivables", "ASSET", "1000"},
		{"1210", "Trade Receivables", "ASSET", "1200"},
		{"1300", "Inventory", "ASSET", "1000"},
		{"1310", "Merchandise Inventory", "ASSET", "1300"},
		{"2000", "Liabilities", "LIABILITY", ""},
		{"2110", "Trade Payables", "LIABILITY", "2000"},
		{"2120", "Taxes Payable", "LIABILITY", "2000"},
		{"3000", "Equity", "EQUITY", ""},
		{"3100", "Paid-in Capital", "EQUITY", "3000"},
		{"3200", "Retained Earnings", "EQUITY", "3000"},
		{"4000", "Revenue", "REVENUE", ""},
		{"4100", "Sales Revenue", "REVENUE", "4000"},
		{"4300", "Inventory Adjustment Gain", "REVENUE", "4000"},
		{"4501", "Unrealized Exchange Gain", "REVENUE", "4000"},
		{"5000", "Expenses", "EXPENSE", ""},
		{"5100", "Cost of Goods Sold", "EXPENSE", "5000"},
		{"5300", "Inventory Shrinkage", "EXPENSE", "5000"},
		{"5501", "Unrealized Exchange Loss", "EXPENSE", "5000"},
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, a := range accounts {
			var parent any
			if a.parent != "" {
				parent = a.parent
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (code, name, type, parent_id, is_active)
				VALUES ($1, $2, $3, (SELECT id FROM accounts WHERE code = $4), TRUE)
				ON CONFLICT (code) DO NOTHING`, a.code, a.name, a.accType, parent)
			if err != nil {
				return fmt.Errorf("account %s: %w", a.code, err)
			}
		}
		return nil
	})
}

func seedPeriods(ctx context.Context, pool *pgxpool.Pool) error {
	year := time.Now().Year()
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for month := 1; month <= 12; month++ {
			start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
			end := start.AddDate(0, 1, -1)
			_, err := tx.Exec(ctx, `
				INSERT INTO fiscal_periods (code, start_date, end_date)
				VALUES ($1, $2, $3)
				ON CONFLICT (code) DO NOTHING`, fmt.Sprintf("%d-%02d", year, month), start, end)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedMappings(ctx context.Context, pool *pgxpool.Pool) error {
	mappings := map[string]string{
		integration.KeyAdjustmentStock: "1310",
		integration.KeyAdjustmentGain:  "4300",
		integration.KeyAdjustmentLoss:  "5300",
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for key, code := range mappings {
			_, err := tx.Exec(ctx, `
				INSERT INTO account_mappings (module, key, account_id)
				SELECT $1, $2, id FROM accounts WHERE code = $3
				ON CONFLICT (module, key) DO NOTHING`, integration.ModuleInventory, key, code)
			if err != nil {
				return fmt.Errorf("mapping %s: %w", key, err)
			}
		}
		return nil
	})
}

// =============================================================================
// CURRENCY
// =============================================================================

func seedCurrencies(ctx context.Context, pool *pgxpool.Pool) error {
	currencies := []struct {
		code, name, rate string
		primary          bool
	}{
		{"SAR", "Saudi Riyal", "1", true},
		{"USD", "US Dollar", "3.75", false},
		{"EUR", "Euro", "4.05", false},
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, c := range currencies {
			code, err := currency.NormalizeCode(c.code)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO currencies (code, name, exchange_rate, is_primary, is_active)
				VALUES ($1, $2, $3::NUMERIC, $4, TRUE)
				ON CONFLICT (code) DO NOTHING`, code, c.name, c.rate, c.primary)
			if err != nil {
				return fmt.Errorf("currency %s: %w", code, err)
			}
		}
		return nil
	})
}

func seedPolicy(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	svc := currency.NewService(currency.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	if _, err := svc.ActivePolicy(ctx); err == nil {
		return nil
	} else if !errors.Is(err, currency.ErrNoActivePolicy) {
		return err
	}
	const code = "VALUED_ASSET_DEFAULT"
	var id int64
	err := pool.QueryRow(ctx, `SELECT id FROM currency_policies WHERE code = $1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		policy, err := svc.CreatePolicy(ctx, currency.Policy{
			Name:                       "Valued asset, convert at settlement",
			Code:                       code,
			Type:                       currency.PolicyValuedAsset,
			RequiresReferenceCurrency:  true,
			AllowMultiCurrencyBalances: true,
			ConversionTiming:           currency.TimingSettlement,
			RevaluationEnabled:         true,
			RevaluationFrequency:       currency.FrequencyPeriodEnd,
			ExchangeRateSource:         currency.SourceCentralBank,
		})
		if err != nil {
			return err
		}
		id = policy.ID
	} else if err != nil {
		return err
	}
	_, err = svc.Activate(ctx, id, 0)
	return err
}

// =============================================================================
// INVENTORY
// =============================================================================

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	products := []struct {
		sku, name, method, price string
	}{
		{"WID-001", "Widget", "FIFO", "10"},
		{"GAD-001", "Gadget", "LIFO", "25"},
		{"BOL-001", "Bolt (bulk)", "WAC", "0.35"},
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, p := range products {
			_, err := tx.Exec(ctx, `
				INSERT INTO products (sku, name, costing_method, purchase_price)
				VALUES ($1, $2, $3, $4::NUMERIC)
				ON CONFLICT (sku) DO NOTHING`, p.sku, p.name, p.method, p.price)
			if err != nil {
				return fmt.Errorf("product %s: %w", p.sku, err)
			}
		}
		return nil
	})
}
