// Command importer loads spreadsheets into the store from the command line.
//
//	importer -entity sale -file sales.xlsx -entity payment -file payments.csv
//	importer -manifest jobs.txt
//	importer -dry-run -entity inventory -file stock.csv
//
// Configuration comes from the same environment variables as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetsync/internal/config"
	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/core/entities"
	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/JonMunkholm/sheetsync/internal/store"
)

// multiFlag collects a repeated string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var entityFlags, fileFlags multiFlag
	flag.Var(&entityFlags, "entity", "entity key (repeat, paired with -file)")
	flag.Var(&fileFlags, "file", "spreadsheet path (repeat, paired with -entity)")
	manifest := flag.String("manifest", "", `file of "entity path" lines`)
	dryRun := flag.Bool("dry-run", false, "preview without writing")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Import.CatalogPath != "" {
		if _, err := entities.Apply(cfg.Import.CatalogPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	jobs, err := pairJobs(entityFlags, fileFlags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *manifest != "" {
		f, err := os.Open(*manifest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		more, err := parseManifest(f)
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		jobs = append(jobs, more...)
	}
	if len(jobs) == 0 {
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx, core.All()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	svc := core.NewService(st, core.ServiceConfig{
		ChunkSize:     cfg.Import.ChunkSize,
		Resume:        cfg.Import.Resume,
		ImportTimeout: cfg.Import.Timeout,
		CommitTimeout: cfg.Import.CommitTimeout,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.Timeout,
		Logger:        logger,
	})

	code := 0
	for _, rep := range runJobs(ctx, svc, jobs, *dryRun, cfg.Import.MaxConcurrent, cfg.Import.MaxFileSize) {
		fmt.Println(rep)
		if !rep.ok() {
			code = 1
		}
	}
	return code
}
