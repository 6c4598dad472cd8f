package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledger-recon/internal/audit"
	"ledger-recon/internal/auth"
	ledgerapp "ledger-recon/internal/ledger/application"
	ledger "ledger-recon/internal/ledger/domain"
	ledgermemory "ledger-recon/internal/ledger/infrastructure/memory"
	ledgerpg "ledger-recon/internal/ledger/infrastructure/postgres"
	ledgerhttp "ledger-recon/internal/ledger/interfaces/http"
	"ledger-recon/internal/observability/metrics"
	payoutsapp "ledger-recon/internal/payouts/application"
	payouts "ledger-recon/internal/payouts/domain"
	payoutsmemory "ledger-recon/internal/payouts/infrastructure/memory"
	payoutspg "ledger-recon/internal/payouts/infrastructure/postgres"
	payoutshttp "ledger-recon/internal/payouts/interfaces/http"
	reconapp "ledger-recon/internal/recon/application"
	recon "ledger-recon/internal/recon/domain"
	reconmemory "ledger-recon/internal/recon/infrastructure/memory"
	reconpg "ledger-recon/internal/recon/infrastructure/postgres"
	reconevents "ledger-recon/internal/recon/interfaces/events"
	reconhttp "ledger-recon/internal/recon/interfaces/http"
)

func main() {
	// a missing .env is fine; the environment wins over it
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	reconCfg, err := reconapp.LoadConfig()
	if err != nil {
		logger.Fatalf("recon config error: %v", err)
	}

	var db *sql.DB
	if cfg.Storage == "postgres" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}
	metrics.Init(db, logger)

	stores, err := buildStores(db)
	if err != nil {
		logger.Fatalf("store init error: %v", err)
	}

	publishers := reconevents.Fanout{reconevents.NewLoggingPublisher(logger)}
	if cfg.WebhookURL != "" {
		webhookPublisher, err := reconevents.NewWebhookPublisher(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook publisher error: %v", err)
		}
		publishers = append(publishers, webhookPublisher)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := reconevents.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatalf("kafka publisher error: %v", err)
		}
		defer kafkaPublisher.Close()
		if db == nil {
			publishers = append(publishers, kafkaPublisher)
		} else {
			outboxStore, err := reconpg.NewOutboxStore(db)
			if err != nil {
				logger.Fatalf("outbox store error: %v", err)
			}
			outboxPublisher, err := reconevents.NewOutboxPublisher(outboxStore)
			if err != nil {
				logger.Fatalf("outbox publisher error: %v", err)
			}
			relay, err := reconevents.NewRelay(outboxStore, kafkaPublisher, logger)
			if err != nil {
				logger.Fatalf("outbox relay error: %v", err)
			}
			go relay.Run(context.Background(), cfg.RelayInterval)
			publishers = append(publishers, outboxPublisher)
		}
	}

	ingestService, err := ledgerapp.NewIngestService(stores.entries, ledgerapp.SystemClock{}, logger,
		ledgerapp.WithInflowMovementType(reconCfg.InflowMovementType))
	if err != nil {
		logger.Fatalf("ingest service init error: %v", err)
	}
	payoutImport, err := payoutsapp.NewImportService(stores.payouts, payoutsapp.SystemClock{}, logger)
	if err != nil {
		logger.Fatalf("payout import init error: %v", err)
	}
	bankImport, err := payoutsapp.NewBankImportService(stores.bank, logger)
	if err != nil {
		logger.Fatalf("bank import init error: %v", err)
	}
	reconService, err := reconapp.NewService(stores.recon, reconCfg, logger, reconapp.WithPublisher(publishers))
	if err != nil {
		logger.Fatalf("recon service init error: %v", err)
	}

	ledgerImportHandler, err := ledgerhttp.NewImportHandler(ingestService, stores.audit)
	if err != nil {
		logger.Fatalf("ledger handler init error: %v", err)
	}
	entriesHandler, err := ledgerhttp.NewEntriesHandler(stores.lister)
	if err != nil {
		logger.Fatalf("entries handler init error: %v", err)
	}
	payoutHandler, err := payoutshttp.NewImportHandler(payoutImport, stores.audit)
	if err != nil {
		logger.Fatalf("payout handler init error: %v", err)
	}
	bankHandler, err := payoutshttp.NewBankImportHandler(bankImport, stores.audit)
	if err != nil {
		logger.Fatalf("bank handler init error: %v", err)
	}
	reconHandler, err := reconhttp.NewHandler(reconService, stores.audit)
	if err != nil {
		logger.Fatalf("recon handler init error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/imports/ledger", ledgerImportHandler)
	mux.Handle("/api/v1/imports/payouts", payoutHandler)
	mux.Handle("/api/v1/imports/bank", bankHandler)
	mux.Handle("/api/v1/ledger/entries", entriesHandler)
	mux.Handle("/api/v1/recon/", reconHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	logger.Printf("http listening on %s storage=%s", cfg.HTTPAddr, cfg.Storage)
	logger.Fatal(server.ListenAndServe())
}

type storeSet struct {
	entries ledger.EntryStore
	lister  ledger.EntryLister
	payouts payouts.PayoutWriter
	bank    payouts.BankEntryWriter
	recon   recon.Store
	audit   audit.Logger
}

func buildStores(db *sql.DB) (storeSet, error) {
	if db == nil {
		entries := ledgermemory.NewEntryStore()
		payoutStore := payoutsmemory.NewStore()
		return storeSet{
			entries: entries,
			lister:  entries,
			payouts: payoutStore,
			bank:    payoutStore,
			recon:   reconmemory.NewStore(entries, payoutStore),
			audit:   &audit.MemoryLog{},
		}, nil
	}
	entries, err := ledgerpg.NewEntryStore(db)
	if err != nil {
		return storeSet{}, err
	}
	payoutStore, err := payoutspg.NewStore(db)
	if err != nil {
		return storeSet{}, err
	}
	reconStore, err := reconpg.NewStore(db)
	if err != nil {
		return storeSet{}, err
	}
	auditLog, err := audit.NewPostgresLog(db)
	if err != nil {
		return storeSet{}, err
	}
	return storeSet{
		entries: entries,
		lister:  entries,
		payouts: payoutStore,
		bank:    payoutStore,
		recon:   reconStore,
		audit:   auditLog,
	}, nil
}

type config struct {
	Storage       string
	DatabaseURL   string
	HTTPAddr      string
	JWTSecret     string
	KafkaBrokers  []string
	KafkaTopic    string
	ReadTimeout   time.Duration
	RelayInterval time.Duration
	WebhookURL    string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		KafkaBrokers:  splitList(getenvDefault("KAFKA_BROKERS", "")),
		KafkaTopic:    getenvDefault("KAFKA_TOPIC", reconevents.DefaultTopic),
		ReadTimeout:   getenvDuration("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
		RelayInterval: getenvDuration("OUTBOX_RELAY_INTERVAL", 5*time.Second),
		WebhookURL:    getenvDefault("RECON_WEBHOOK_URL", ""),
	}
	defaultStorage := "memory"
	if cfg.DatabaseURL != "" {
		defaultStorage = "postgres"
	}
	cfg.Storage = strings.ToLower(getenvDefault("STORAGE", defaultStorage))
	switch cfg.Storage {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL or PG_DSN is required for postgres storage")
		}
	default:
		log.Fatalf("STORAGE must be memory or postgres, got %q", cfg.Storage)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
