package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/config"
	"github.com/iurnickita/foodmart/internal/dispatch"
	"github.com/iurnickita/foodmart/internal/events"
	"github.com/iurnickita/foodmart/internal/handler"
	"github.com/iurnickita/foodmart/internal/ledger"
	"github.com/iurnickita/foodmart/internal/lifecycle"
	"github.com/iurnickita/foodmart/internal/logger"
	"github.com/iurnickita/foodmart/internal/metrics"
	"github.com/iurnickita/foodmart/internal/partner"
	"github.com/iurnickita/foodmart/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := events.New(cfg.Events, zaplog)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			zaplog.Error("events close", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ledger := ledger.NewLedger(cfg.Ledger, store, bus, m, zaplog)
	dispatch := dispatch.NewDispatch(store)
	lifecycle, err := lifecycle.NewLifecycle(cfg.Lifecycle, ledger.Policy(), store, dispatch, bus, m, zaplog)
	if err != nil {
		return err
	}

	router := handler.NewRouter(cfg.Handler, handler.Services{
		Lifecycle: lifecycle,
		Dispatch:  dispatch,
		Partner:   partner.NewPartner(store, zaplog),
		Ledger:    ledger,
	}, reg, zaplog)

	return handler.Serve(ctx, cfg.Handler, router, zaplog)
}
