// Command orgledger is the operational entry point: it opens the configured
// store backend, applies migrations, and runs one subcommand against the
// ledger. There is no serving loop; every invocation does its work and
// exits.
//
// Usage:
//
//	orgledger migrate
//	orgledger import <roster.csv|roster.xlsx>
//	orgledger schedule <YYYY-MM-DD> [activity-type]
//	orgledger history <kind> <entry>
//	orgledger audit <kind> <entry>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"orgledger/internal/audit"
	"orgledger/internal/auth"
	"orgledger/internal/config"
	"orgledger/internal/db"
	"orgledger/internal/domain"
	"orgledger/internal/ingestion"
	"orgledger/internal/logger"
	"orgledger/internal/metrics"
	"orgledger/internal/query"
	"orgledger/internal/store"
	"orgledger/internal/store/memory"
	"orgledger/internal/store/postgres"
	"orgledger/internal/store/sqlite"
	"orgledger/internal/versioning"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	ctx := context.Background()

	// ORGLEDGER_USER attributes mutations to a real user id instead of
	// the system actor.
	if raw := os.Getenv("ORGLEDGER_USER"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatal().Str("value", raw).Msg("ORGLEDGER_USER must be an integer user id")
		}
		ctx = auth.WithActor(ctx, auth.NewSession(id))
	}

	app, cleanup, err := openApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer cleanup()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	if err := run(ctx, app, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

type app struct {
	cfg     config.Config
	store   store.Store
	engine  *versioning.Engine
	queries *query.Engine
	audit   *audit.Recorder
	log     zerolog.Logger
}

func openApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, func(), error) {
	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		st       store.Store
		auditLog store.AuditStore
		cleanup  = func() {}
	)

	switch cfg.Backend {
	case "postgres":
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(cfg.Database); err != nil {
			conn.Close()
			return nil, nil, err
		}
		st = postgres.NewStore(conn.Pool)
		auditLog = postgres.NewAuditLog(conn.Pool)
		cleanup = conn.Close
	case "sqlite":
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st = s
		auditLog = memory.NewAuditLog()
		cleanup = func() { _ = s.Close() }
	case "memory":
		st = memory.NewStore()
		auditLog = memory.NewAuditLog()
	}

	recorder := audit.NewRecorder(auditLog, log).WithDropCounter(m.AuditDropsTotal)
	return &app{
		cfg:     cfg,
		store:   st,
		engine:  versioning.NewEngine(st, recorder, m, log),
		queries: query.NewEngine(st, m, log),
		audit:   recorder,
		log:     log,
	}, cleanup, nil
}

func run(ctx context.Context, a *app, command string, args []string) error {
	switch command {
	case "migrate":
		// Migrations already ran while opening the postgres backend.
		if a.cfg.Backend != "postgres" {
			return fmt.Errorf("migrate requires the postgres backend, have %q", a.cfg.Backend)
		}
		a.log.Info().Msg("migrations applied")
		return nil

	case "import":
		if len(args) != 1 {
			return fmt.Errorf("usage: orgledger import <roster-file>")
		}
		return runImport(ctx, a, args[0])

	case "schedule":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: orgledger schedule <YYYY-MM-DD> [activity-type]")
		}
		return runSchedule(ctx, a, args)

	case "history":
		if len(args) != 2 {
			return fmt.Errorf("usage: orgledger history <kind> <entry>")
		}
		return runHistory(ctx, a, args[0], args[1])

	case "audit":
		if len(args) != 2 {
			return fmt.Errorf("usage: orgledger audit <kind> <entry>")
		}
		return runAudit(ctx, a, args[0], args[1])

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runImport(ctx context.Context, a *app, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		actor = domain.SystemActor()
	}

	svc := ingestion.NewService(a.engine, a.store, a.log)
	summary, err := svc.Import(ctx, ingestion.Request{
		FileName: path,
		Data:     f,
		Actor:    actor,
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runSchedule(ctx context.Context, a *app, args []string) error {
	day, err := domain.ParseDate(args[0])
	if err != nil {
		return err
	}
	typeName := ""
	if len(args) == 2 {
		typeName = args[1]
	}

	schedule, err := a.queries.Schedule(ctx, day, typeName)
	if err != nil {
		return err
	}
	return printJSON(schedule)
}

func runHistory(ctx context.Context, a *app, kindArg, entryArg string) error {
	kind, entry, err := parseTarget(kindArg, entryArg)
	if err != nil {
		return err
	}
	history, err := a.engine.GetHistory(ctx, kind, entry)
	if err != nil {
		return err
	}
	return printJSON(history)
}

func runAudit(ctx context.Context, a *app, kindArg, entryArg string) error {
	kind, entry, err := parseTarget(kindArg, entryArg)
	if err != nil {
		return err
	}
	records, err := a.audit.List(ctx, kind, entry, 100, 0)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func parseTarget(kindArg, entryArg string) (domain.Kind, int64, error) {
	kind, err := domain.ParseKind(kindArg)
	if err != nil {
		return "", 0, err
	}
	entry, err := strconv.ParseInt(entryArg, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid entry id %q", entryArg)
	}
	return kind, entry, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics endpoint stopped")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: orgledger <command> [args]

commands:
  migrate                              apply schema migrations (postgres)
  import <roster.csv|roster.xlsx>      bulk-load a roster file
  schedule <YYYY-MM-DD> [type]         print the schedule for a day as JSON
  history <kind> <entry>               print every version of an entry
  audit <kind> <entry>                 print recent audit records`)
}
