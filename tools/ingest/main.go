package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"

	_ "github.com/jackc/pgx/v5/stdlib"

	ledgerapp "ledger-recon/internal/ledger/application"
	ledger "ledger-recon/internal/ledger/domain"
	ledgermemory "ledger-recon/internal/ledger/infrastructure/memory"
	ledgerpg "ledger-recon/internal/ledger/infrastructure/postgres"
	"ledger-recon/internal/ledger/infrastructure/tabular"
	payoutsapp "ledger-recon/internal/payouts/application"
	payouts "ledger-recon/internal/payouts/domain"
	payoutsmemory "ledger-recon/internal/payouts/infrastructure/memory"
	payoutspg "ledger-recon/internal/payouts/infrastructure/postgres"
)

const (
	kindLedger  = "ledger"
	kindPayouts = "payouts"
	kindBank    = "bank"
)

var accountPattern = regexp.MustCompile(`^[0-9]{4}$`)

type config struct {
	dbURL   string
	kind    string
	file    string
	account string
	actor   string
	dryRun  bool
	debug   bool
	verbose bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	var db *sql.DB
	if cfg.dbURL != "" {
		db, err = sql.Open("pgx", cfg.dbURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "db open:", err)
			os.Exit(2)
		}
		defer db.Close()
	}

	logOut := io.Discard
	if cfg.verbose {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "", log.LstdFlags)

	if err := run(context.Background(), cfg, db, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN (empty runs against an in-memory store)")
	flag.StringVar(&cfg.kind, "kind", kindLedger, "file kind: ledger, payouts or bank")
	flag.StringVar(&cfg.file, "file", "", "csv or xlsx file to import")
	flag.StringVar(&cfg.account, "account", "", "last four digits of the bank account (bank only)")
	flag.StringVar(&cfg.actor, "actor", getenvDefault("USER", "cli"), "actor recorded on the import")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "classify ledger rows without writing")
	flag.BoolVar(&cfg.debug, "debug", false, "include debug samples in the ledger summary")
	flag.BoolVar(&cfg.verbose, "v", false, "log service output to stderr")
	flag.Parse()
	return cfg, validate(cfg)
}

func validate(cfg config) error {
	if cfg.file == "" {
		return errors.New("missing --file")
	}
	switch cfg.kind {
	case kindLedger, kindPayouts:
	case kindBank:
		if !accountPattern.MatchString(cfg.account) {
			return errors.New("--account must be exactly four digits")
		}
	default:
		return fmt.Errorf("unknown --kind %q", cfg.kind)
	}
	if cfg.dryRun && cfg.kind != kindLedger {
		return errors.New("--dry-run is only supported for ledger files")
	}
	return nil
}

// run imports one file and writes the JSON summary to out. A nil db uses
// fresh in-memory stores.
func run(ctx context.Context, cfg config, db *sql.DB, logger *log.Logger, out io.Writer) error {
	f, err := os.Open(cfg.file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	table, err := tabular.Read(cfg.file, f)
	if err != nil {
		return err
	}
	name := filepath.Base(cfg.file)

	var result any
	switch cfg.kind {
	case kindLedger:
		result, err = importLedger(ctx, db, logger, cfg, name, table)
	case kindPayouts:
		result, err = importPayouts(ctx, db, logger, cfg, name, table)
	case kindBank:
		result, err = importBank(ctx, db, logger, cfg, name, table)
	default:
		err = fmt.Errorf("unknown kind %q", cfg.kind)
	}
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

func importLedger(ctx context.Context, db *sql.DB, logger *log.Logger, cfg config, name string, table *tabular.Table) (any, error) {
	var store ledger.EntryStore = ledgermemory.NewEntryStore()
	if db != nil {
		pg, err := ledgerpg.NewEntryStore(db)
		if err != nil {
			return nil, err
		}
		store = pg
	}
	service, err := ledgerapp.NewIngestService(store, ledgerapp.SystemClock{}, logger)
	if err != nil {
		return nil, err
	}
	headers, rows := table.Split(0)
	summary, err := service.Ingest(ctx, ledgerapp.IngestRequest{
		Filename: name,
		Sheet:    table.Sheet,
		Headers:  headers,
		Rows:     rows,
		DryRun:   cfg.dryRun,
		Debug:    cfg.debug,
		Actor:    cfg.actor,
	})
	return summary, err
}

func importPayouts(ctx context.Context, db *sql.DB, logger *log.Logger, cfg config, name string, table *tabular.Table) (any, error) {
	store, err := payoutStore(db)
	if err != nil {
		return nil, err
	}
	service, err := payoutsapp.NewImportService(store, payoutsapp.SystemClock{}, logger)
	if err != nil {
		return nil, err
	}
	headers, rows := table.Split(0)
	return service.Import(ctx, payoutsapp.ImportRequest{
		Filename: name,
		Headers:  headers,
		Rows:     rows,
		Actor:    cfg.actor,
	})
}

func importBank(ctx context.Context, db *sql.DB, logger *log.Logger, cfg config, name string, table *tabular.Table) (any, error) {
	store, err := payoutStore(db)
	if err != nil {
		return nil, err
	}
	service, err := payoutsapp.NewBankImportService(store, logger)
	if err != nil {
		return nil, err
	}
	return service.Import(ctx, payoutsapp.BankImportRequest{
		Filename:     name,
		Records:      table.Records,
		AccountLast4: cfg.account,
		Actor:        cfg.actor,
	})
}

type payoutBankStore interface {
	payouts.PayoutWriter
	payouts.BankEntryWriter
}

func payoutStore(db *sql.DB) (payoutBankStore, error) {
	if db == nil {
		return payoutsmemory.NewStore(), nil
	}
	return payoutspg.NewStore(db)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
