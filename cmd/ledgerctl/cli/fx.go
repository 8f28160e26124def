package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/currency"
)

// RateStore is the subset of the currency engine used by the FX helpers.
type RateStore interface {
	CurrencyByCode(ctx context.Context, code string) (currency.Currency, error)
	ReferenceCurrency(ctx context.Context) (currency.Currency, error)
	RecordExchangeRate(ctx context.Context, input currency.RateInput) (currency.Rate, error)
}

// FXOpsCLI offers operational helpers to manage exchange rates.
type FXOpsCLI struct {
	rates RateStore
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(rates RateStore) *FXOpsCLI {
	return &FXOpsCLI{rates: rates}
}

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry previews the rates without recording them.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply records the rates after confirmation.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the import command.
type FXImportOptions struct {
	Mode         FXImportMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXImportRow is one rate read from the source, quoted as units of the
// reference currency per unit of Currency.
type FXImportRow struct {
	Date     string          `json:"date"`
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Source   string          `json:"source"`
}

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode      FXImportMode  `json:"mode"`
	Reference string        `json:"reference_currency"`
	Rows      []FXImportRow `json:"rows"`
	Applied   int           `json:"applied"`
}

// ImportCommand reads date,currency,rate[,source] rows and records them
// against the reference currency. It returns a process exit code.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	if c == nil || c.rates == nil {
		fmt.Fprintln(opts.Stderr, "fx import: currency service not configured")
		return 1
	}
	ref, err := c.rates.ReferenceCurrency(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	rows, err := loadImportRows(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	summary := FXImportSummary{Mode: mode, Reference: ref.Code, Rows: rows}
	if mode == FXImportModeDry || len(rows) == 0 {
		return c.finish(opts, summary)
	}

	inputs := make([]currency.RateInput, 0, len(rows))
	for _, row := range rows {
		cur, err := c.rates.CurrencyByCode(ctx, row.Currency)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: %s on %s: %v\n", row.Currency, row.Date, err)
			return 1
		}
		date, _ := time.Parse(time.DateOnly, row.Date)
		inputs = append(inputs, currency.RateInput{
			SourceCurrencyID: cur.ID,
			TargetCurrencyID: ref.ID,
			Rate:             row.Rate,
			Date:             &date,
			Source:           currency.RateSource(row.Source),
			Reference:        "fx-import",
		})
	}

	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultImportConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "fx import: cancelled by user")
		return 1
	}
	for i, input := range inputs {
		if _, err := c.rates.RecordExchangeRate(ctx, input); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: record %s on %s: %v\n", rows[i].Currency, rows[i].Date, err)
			summary.Applied = i
			_ = c.finish(opts, summary)
			return 1
		}
	}
	summary.Applied = len(inputs)
	return c.finish(opts, summary)
}

func (c *FXOpsCLI) finish(opts FXImportOptions, summary FXImportSummary) int {
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
			return 1
		}
		return 0
	}
	renderImportHuman(opts.Stdout, summary)
	return 0
}

func loadImportRows(opts FXImportOptions) ([]FXImportRow, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--source is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	idx := map[string]int{"date": -1, "currency": -1, "rate": -1, "source": -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "date", "effective_date":
			idx["date"] = i
		case "currency", "code":
			idx["currency"] = i
		case "rate":
			idx["rate"] = i
		case "source":
			idx["source"] = i
		}
	}
	if idx["date"] < 0 || idx["currency"] < 0 || idx["rate"] < 0 {
		return nil, errors.New("missing required columns in source (need date, currency, rate)")
	}
	var rows []FXImportRow
	for line := 2; ; line++ {
		record, err := nextNonEmptyRecord(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := parseImportRecord(record, idx)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b FXImportRow) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Currency, b.Currency)
	})
	return rows, nil
}

func parseImportRecord(record []string, idx map[string]int) (FXImportRow, error) {
	field := func(name string) string {
		i := idx[name]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	date, err := time.Parse(time.DateOnly, field("date"))
	if err != nil {
		return FXImportRow{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", field("date"))
	}
	code, err := currency.NormalizeCode(field("currency"))
	if err != nil {
		return FXImportRow{}, err
	}
	rate, err := decimal.NewFromString(field("rate"))
	if err != nil {
		return FXImportRow{}, fmt.Errorf("invalid rate %q for %s", field("rate"), code)
	}
	if !rate.IsPositive() {
		return FXImportRow{}, fmt.Errorf("non-positive rate for %s on %s", code, date.Format(time.DateOnly))
	}
	source := strings.ToUpper(field("source"))
	if source == "" {
		source = string(currency.SourceManual)
	}
	return FXImportRow{Date: date.Format(time.DateOnly), Currency: code, Rate: rate, Source: source}, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				return record, nil
			}
		}
	}
}

func renderImportHuman(out io.Writer, summary FXImportSummary) {
	fmt.Fprintf(out, "FX import (%s) against %s: %d rate(s)\n", summary.Mode, summary.Reference, len(summary.Rows))
	for _, row := range summary.Rows {
		fmt.Fprintf(out, " - %s %s %s (%s)\n", row.Date, row.Currency, row.Rate.String(), row.Source)
	}
	if summary.Mode == FXImportModeApply {
		fmt.Fprintf(out, "Applied %d rate(s).\n", summary.Applied)
	}
}

func defaultImportConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Record exchange rates? Type YES to confirm: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
