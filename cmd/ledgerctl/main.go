package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/odyssey-erp/ledger-core/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/accounting/periods"
	"github.com/odyssey-erp/ledger-core/internal/app"
	"github.com/odyssey-erp/ledger-core/internal/currency"
	"github.com/odyssey-erp/ledger-core/internal/platform/db"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

const usage = `usage:
  ledgerctl fx import --source FILE|- [--mode dry|apply] [--json]
  ledgerctl jobs trigger TASK [key=value ...]
  ledgerctl jobs stats
  ledgerctl periods lock|unlock|close PERIOD_ID [--actor ID]
  ledgerctl accounts list
  ledgerctl ledger trial-balance [--as-of YYYY-MM-DD]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] + " " + args[1] {
	case "fx import":
		return runFXImport(ctx, cfg, logger, args[2:], stdout, stderr)
	case "jobs trigger":
		return runJobsTrigger(ctx, cfg, args[2:], stdout, stderr)
	case "jobs stats":
		return runJobsStats(cfg, stdout, stderr)
	case "accounts list":
		return runAccountsList(ctx, cfg, stdout, stderr)
	case "ledger trial-balance":
		return runTrialBalance(ctx, cfg, logger, args[2:], stdout, stderr)
	case "periods lock", "periods unlock", "periods close":
		return runPeriodTransition(ctx, cfg, logger, args[1], args[2:], stdout, stderr)
	}
	fmt.Fprint(stderr, usage)
	return 2
}

func runFXImport(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fx import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	source := fs.String("source", "", "CSV file with date,currency,rate[,source] or - for stdin")
	mode := fs.String("mode", string(cli.FXImportModeDry), "dry or apply")
	asJSON := fs.Bool("json", false, "emit JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := currency.NewService(currency.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	return cli.NewFXOpsCLI(svc).ImportCommand(ctx, cli.FXImportOptions{
		Mode:       cli.FXImportMode(*mode),
		Source:     *source,
		JSONOutput: *asJSON,
		Stdout:     stdout,
		Stderr:     stderr,
		Stdin:      os.Stdin,
	})
}

func runJobsTrigger(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	params := cli.TriggerArgs{}
	for _, kv := range args[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Fprintf(stderr, "jobs trigger: expected key=value, got %q\n", kv)
			return 2
		}
		params[key] = value
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cfg.RedisDB)
	defer func() { _ = jobsCLI.Close() }()
	info, err := jobsCLI.Trigger(ctx, args[0], params)
	if err != nil {
		fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

func runJobsStats(cfg *app.Config, stdout, stderr io.Writer) int {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cfg.RedisDB)
	defer func() { _ = jobsCLI.Close() }()
	stats, err := jobsCLI.InspectQueues()
	if err != nil {
		fmt.Fprintf(stderr, "jobs stats: %v\n", err)
		return 1
	}
	for _, s := range stats {
		fmt.Fprintf(stdout, "%-10s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
	}
	return 0
}

func runPeriodTransition(ctx context.Context, cfg *app.Config, logger *slog.Logger, action string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("periods "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	actor := fs.Int64("actor", 0, "user id recorded in the audit log")
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "periods %s: invalid period id %q\n", action, args[0])
		return 2
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := periods.NewService(periods.NewStore(pool), shared.NewAuditLogger(pool), logger)
	var period periods.Period
	switch action {
	case "lock":
		period, err = svc.Lock(ctx, id, *actor)
	case "unlock":
		period, err = svc.Unlock(ctx, id, *actor)
	default:
		period, err = svc.Close(ctx, id, *actor)
	}
	if err != nil {
		fmt.Fprintf(stderr, "periods %s: %v\n", action, err)
		return 1
	}
	fmt.Fprintf(stdout, "period %s is now %s\n", period.Code, period.Status())
	return 0
}

func runAccountsList(ctx context.Context, cfg *app.Config, stdout, stderr io.Writer) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	list, err := accounts.NewService(accounts.NewRepository(pool)).List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "accounts list: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tTYPE\tPOSTABLE\tACTIVE")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", a.Code, a.Name, a.Type, a.IsLeaf(), a.IsActive)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func runTrialBalance(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger trial-balance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asOfFlag := fs.String("as-of", "", "balance date, YYYY-MM-DD; defaults to all postings")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	var asOf *time.Time
	if *asOfFlag != "" {
		d, err := time.Parse(time.DateOnly, *asOfFlag)
		if err != nil {
			fmt.Fprintf(stderr, "ledger trial-balance: invalid --as-of %q\n", *asOfFlag)
			return 2
		}
		asOf = &d
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := ledger.NewService(ledger.NewRepository(pool), nil, ledger.Config{DocumentType: cfg.LedgerDocumentType, PreventParentPosting: cfg.LedgerPreventParentPosting}, logger)
	tb, err := svc.TrialBalance(ctx, asOf)
	if err != nil {
		fmt.Fprintf(stderr, "ledger trial-balance: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "CODE\tNAME\tDEBIT\tCREDIT\t")
	for _, row := range tb.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.AccountCode, row.AccountName, row.Debit.StringFixed(2), row.Credit.StringFixed(2))
	}
	fmt.Fprintf(tw, "\tTOTAL\t%s\t%s\t\n", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return 1
	}
	if !tb.IsBalanced() {
		fmt.Fprintln(stderr, "ledger trial-balance: debits and credits differ")
		return 10
	}
	return 0
}
