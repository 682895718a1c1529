// ipslamon: Cisco IP SLA UDP-jitter statistics collector.
// Parses "show ip sla statistics aggregated" reports into a deduplicated
// measurement store, exports it to xlsx and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vesaa/ipslamon/internal/agent"
	"github.com/vesaa/ipslamon/internal/config"
	"github.com/vesaa/ipslamon/internal/export"
	"github.com/vesaa/ipslamon/internal/ingest"
	"github.com/vesaa/ipslamon/internal/logging"
	"github.com/vesaa/ipslamon/internal/metrics"
	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/server"
)

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Printf("\n  ► ipslamon %s  |  Mode: %s\n\n", version, mode)
}

var configPath string

// app is the state every store-backed command shares.
type app struct {
	cfg  *config.Config
	log  *logrus.Logger
	repo *server.Repository
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config values.
	if cmd.Flags().Lookup("policy") != nil {
		if p, _ := cmd.Flags().GetString("policy"); p != "" {
			cfg.MergePolicy = p
		}
	}
	if cmd.Flags().Lookup("keep") != nil {
		if keep, _ := cmd.Flags().GetBool("keep"); keep {
			cfg.DeleteIngested = false
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg)
	repo, err := server.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return &app{cfg: cfg, log: log, repo: repo}, nil
}

func (a *app) close() {
	if err := a.repo.Close(); err != nil {
		a.log.WithError(err).Warn("closing database")
	}
}

func (a *app) ingester(m *metrics.Metrics) *ingest.Ingester {
	return ingest.New(a.repo, a.log,
		ingest.WithPolicy(a.cfg.Policy()),
		ingest.WithDelete(a.cfg.DeleteIngested),
		ingest.WithLockPath(a.cfg.LockPath()),
		ingest.WithMetrics(m),
	)
}

func printOutcome(f ingest.FileOutcome) {
	mark := "✓"
	if !f.Clean() {
		mark = "✗"
	}
	fmt.Printf("  %s %-40s %-9s +%d new, %d duplicate", mark, f.Name, f.Status, f.Accepted, f.Duplicates)
	if f.Conflicts > 0 {
		fmt.Printf(", %d conflicting", f.Conflicts)
	}
	if f.Replaced > 0 {
		fmt.Printf(", %d replaced", f.Replaced)
	}
	if f.Deleted {
		fmt.Print(", deleted")
	}
	fmt.Println()
	for _, e := range f.Errors {
		fmt.Printf("      %s\n", e)
	}
}

func printSummary(sum *ingest.Summary) {
	for _, f := range sum.Files {
		printOutcome(f)
	}
	fmt.Printf("\n  Files: %d (%d failed)  Accepted: %d  Duplicates: %d  Conflicts: %d  Stored: %d\n",
		len(sum.Files), sum.Failed, sum.Accepted, sum.Duplicates, sum.Conflicts, sum.Total)
}

func runIngest(cmd *cobra.Command, paths []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.ingester(nil).Run(cmd.Context(), paths)
	if err != nil {
		return err
	}
	printSummary(sum)
	if sum.Failed == len(sum.Files) && len(sum.Files) > 0 {
		return fmt.Errorf("no file could be ingested")
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:   "ipslamon",
		Short: "ipslamon: Cisco IP SLA UDP-jitter statistics collector",
		Long: `ipslamon parses "show ip sla statistics aggregated" output into a
deduplicated measurement store keyed by interval start time, exports it to
xlsx with charts and serves it over a JWT-protected HTTP API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml or ~/.ipslamon/config.yaml)")
	root.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error, silent")

	addIngestFlags := func(c *cobra.Command) {
		c.Flags().String("policy", "", "Merge policy: first-write-wins or last-write-wins (overrides config)")
		c.Flags().Bool("keep", false, "Keep input files after a successful ingest")
	}

	// ── ingest subcommand ─────────────────────────────────────────────────────
	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest one or more report files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
	addIngestFlags(ingestCmd)

	// ── ingest-all subcommand ─────────────────────────────────────────────────
	ingestAllCmd := &cobra.Command{
		Use:   "ingest-all",
		Short: "Ingest every report file in the input directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.InputDir
			if d, _ := cmd.Flags().GetString("dir"); d != "" {
				dir = d
			}
			paths, err := filepath.Glob(filepath.Join(dir, cfg.InputGlob))
			if err != nil {
				return fmt.Errorf("bad input_glob %q: %w", cfg.InputGlob, err)
			}
			if len(paths) == 0 {
				fmt.Printf("  No files matching %s in %s\n", cfg.InputGlob, dir)
				return nil
			}
			sort.Strings(paths)
			return runIngest(cmd, paths)
		},
	}
	addIngestFlags(ingestAllCmd)
	ingestAllCmd.Flags().String("dir", "", "Input directory (overrides input_dir)")

	// ── import subcommand ─────────────────────────────────────────────────────
	importCmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Merge the rows of an existing xlsx workbook into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			sheet := a.cfg.DataSheet
			if s, _ := cmd.Flags().GetString("sheet"); s != "" {
				sheet = s
			}
			recs, rowErr := export.ReadWorkbook(args[0], sheet)
			if rowErr != nil && len(recs) == 0 {
				return rowErr
			}
			out, err := a.ingester(nil).IngestRecords(cmd.Context(), filepath.Base(args[0]), recs)
			if err != nil {
				return err
			}
			if rowErr != nil {
				out.Errors = append(out.Errors, rowErr.Error())
			}
			printOutcome(out)
			return nil
		},
	}
	addIngestFlags(importCmd)
	importCmd.Flags().String("sheet", "", "Data sheet name (overrides data_sheet)")

	// ── export subcommand ─────────────────────────────────────────────────────
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the store to an xlsx workbook, optionally with favorite charts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := a.cfg.XLSXPath
			if o, _ := cmd.Flags().GetString("out"); o != "" {
				out = o
			}
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")
			from, err := server.ParseBound(startStr, false)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := server.ParseBound(endStr, true)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			coll, err := a.repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			f, err := export.Build(a.cfg.DataSheet, coll)
			if err != nil {
				return err
			}
			defer f.Close()

			if charts, _ := cmd.Flags().GetBool("charts"); charts {
				created, err := export.AddFavoriteCharts(f, a.cfg.DataSheet, coll, from, to)
				if err != nil {
					return err
				}
				if len(created) == 0 {
					fmt.Println("  ! No data in the selected range, no charts created")
				}
				for _, name := range created {
					fmt.Printf("  ✓ Chart sheet %s\n", name)
				}
			}
			if err := f.SaveAs(out); err != nil {
				return fmt.Errorf("saving %s: %w", out, err)
			}
			fmt.Printf("  ✓ %d records written to %s\n", len(coll), out)
			return nil
		},
	}
	exportCmd.Flags().String("out", "", "Output workbook (overrides xlsx_path)")
	exportCmd.Flags().Bool("charts", false, "Add the favorite chart sheets")
	exportCmd.Flags().String("start", "", "Chart window start (RFC 3339, \"2006-01-02 15:04:05\" or \"2006-01-02\")")
	exportCmd.Flags().String("end", "", "Chart window end, inclusive")

	// ── status subcommand ─────────────────────────────────────────────────────
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the time span and size of the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			coll, err := a.repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			first, last, count := coll.Span()
			fmt.Printf("  Store:   %s\n", a.cfg.DBPath)
			fmt.Printf("  Records: %d\n", count)
			if count > 0 {
				fmt.Printf("  First:   %s\n", first.Format(models.TimeLayout))
				fmt.Printf("  Last:    %s\n", last.Format(models.TimeLayout))
			}
			return nil
		},
	}

	// ── fetch subcommand ──────────────────────────────────────────────────────
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch aggregated IP SLA statistics from the router over SSH",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				cfg.RouterHost = host
			}
			if op, _ := cmd.Flags().GetString("operation"); op != "" {
				cfg.SLAOperation = op
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.AgentToken = token
			}
			if strings.TrimSpace(cfg.SLAOperation) == "" {
				return agent.ErrNoOperation
			}
			log := logging.New(cfg)

			client, err := agent.DialRouter(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			text, err := agent.Fetch(ctx, client, cfg.SLAOperation)
			if err != nil {
				return err
			}
			name := agent.ReportName(client.Host(), time.Now())
			log.WithFields(logrus.Fields{"host": client.Host(), "bytes": len(text)}).Info("statistics fetched")

			if push, _ := cmd.Flags().GetBool("push"); push {
				out, err := agent.Push(ctx, cfg.AgentPushAddr, cfg.AgentToken, name, text)
				if err != nil {
					return fmt.Errorf("pushing to %s: %w", cfg.AgentPushAddr, err)
				}
				fmt.Printf("  ✓ Pushed %s → %s: %s (+%d new, %d duplicate)\n",
					name, cfg.AgentPushAddr, out.Status, out.Accepted, out.Duplicates)
				return nil
			}
			path, err := agent.Save(cfg.InputDir, name, text)
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ Saved %s\n", path)
			return nil
		},
	}
	fetchCmd.Flags().String("host", "", "Router address, host or host:port (overrides router_host)")
	fetchCmd.Flags().String("operation", "", "IP SLA operation id (overrides sla_operation)")
	fetchCmd.Flags().Bool("push", false, "Push the report to the data plane instead of saving it")
	fetchCmd.Flags().String("token", "", "Agent token for --push (overrides agent_token)")

	// ── serve subcommand ──────────────────────────────────────────────────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (dual-port: 6677 control + 1616 data)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)
			if coll, err := a.repo.Load(cmd.Context()); err == nil {
				m.Stored.Set(float64(len(coll)))
			}

			srv := server.New(server.NewAuth(a.cfg), a.repo, a.ingester(m), reg, a.log)

			gin.SetMode(gin.ReleaseMode)
			corsMiddleware := func(c *gin.Context) {
				c.Header("Access-Control-Allow-Origin", "*")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if c.Request.Method == "OPTIONS" {
					c.AbortWithStatus(204)
					return
				}
				c.Next()
			}

			// ── Control-plane engine (6677) ────────────────────────────────────
			ctrlEngine := gin.New()
			ctrlEngine.Use(gin.Recovery(), server.AccessLog(a.log), corsMiddleware)
			srv.RegisterControlRoutes(ctrlEngine)

			// ── Data-plane engine (1616) ───────────────────────────────────────
			dataEngine := gin.New()
			dataEngine.Use(gin.Recovery(), server.AccessLog(a.log))
			srv.RegisterDataRoutes(dataEngine)

			ctrlAddr := fmt.Sprintf("%s:%d", a.cfg.ServerHost, a.cfg.ControlPort)
			dataAddr := fmt.Sprintf("%s:%d", a.cfg.ServerHost, a.cfg.DataPort)

			fmt.Printf("  ✓ Control plane (JWT API, /metrics) → http://%s\n", ctrlAddr)
			fmt.Printf("  ✓ Data    plane (report push)       → http://%s\n", dataAddr)
			fmt.Printf("  ✓ Store: %s (%s)\n\n", a.cfg.DBPath, a.cfg.Policy())

			// Run both servers concurrently; shut down gracefully on SIGINT/SIGTERM.
			ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: ctrlEngine, ReadHeaderTimeout: 10 * time.Second}
			dataSrv := &http.Server{Addr: dataAddr, Handler: dataEngine, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 2)
			go func() { errCh <- ctrlSrv.ListenAndServe() }()
			go func() { errCh <- dataSrv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				fmt.Println("\n  → Shutting down gracefully…")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ctrlSrv.Shutdown(ctx)
				_ = dataSrv.Shutdown(ctx)
				return nil
			}
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print ipslamon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ipslamon %s\n", version)
		},
	}

	root.AddCommand(ingestCmd, ingestAllCmd, importCmd, exportCmd, statusCmd, fetchCmd, serveCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		if errors.Is(err, ingest.ErrLocked) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
