package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"DataHarvester/internal/app"
	"DataHarvester/internal/config"
	"DataHarvester/internal/logging"
	"DataHarvester/internal/metrics"
	"DataHarvester/internal/usecase"
)

func main() {
	var (
		category = flag.String("category", "", "harvest only endpoints of this category")
		ids      = flag.String("ids", "", "harvest only these endpoint ids (comma separated)")
		stale    = flag.Bool("stale", false, "harvest only endpoints whose last extraction is stale")
		maxAge   = flag.Duration("max-age", 24*time.Hour, "staleness threshold used with -stale")
	)
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	sel := selection(*category, *ids, *stale, *maxAge)
	summary, err := application.Run(ctx, sel)
	if err != nil {
		logger.Error("harvest failed", "error", err)
		os.Exit(1)
	}

	completed, failed, aborted := summary.Counts()
	logger.Info("harvest finished",
		"completed", completed,
		"failed", failed,
		"aborted", aborted,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

func selection(category, ids string, stale bool, maxAge time.Duration) usecase.Selection {
	switch {
	case stale:
		return usecase.Selection{Kind: usecase.SelectStale, MaxAge: maxAge}
	case ids != "":
		var list []string
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				list = append(list, id)
			}
		}
		return usecase.Selection{Kind: usecase.SelectIDs, IDs: list}
	case category != "":
		return usecase.Selection{Kind: usecase.SelectCategory, Category: category}
	default:
		return usecase.Selection{Kind: usecase.SelectAll}
	}
}
