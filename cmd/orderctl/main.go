// Command orderctl records shipping and payment events, moves orders through
// their status pipeline and previews offer applications from the terminal.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/django-oscar/django-oscar-sub003/internal/config"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/metrics"
	"github.com/django-oscar/django-oscar-sub003/internal/order"
	"github.com/django-oscar/django-oscar-sub003/internal/partner"
	"github.com/django-oscar/django-oscar-sub003/internal/stock"
	"github.com/django-oscar/django-oscar-sub003/internal/store"
	"github.com/django-oscar/django-oscar-sub003/internal/voucher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

const usage = `usage: orderctl <command> [flags]

commands:
  ship      record a shipping event against order lines
  pay       record a payment event
  subtotal  price the next units of lines for a payment event type
  status    move an order to a new status
  orders    list orders newest first
  restock   add units to a stock record
  offers    preview the offers a product quantity would get`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"ship":     runShip,
	"pay":      runPay,
	"subtotal": runSubtotal,
	"status":   runStatus,
	"orders":   runOrders,
	"restock":  runRestock,
	"offers":   runOffers,
}

// app is everything a command needs, wired once from configuration.
type app struct {
	db        *sql.DB
	logg      *logger.Logger
	registry  *prometheus.Registry
	orders    *store.OrderRepository
	catalogue *store.CatalogueRepository
	offers    *store.OfferRepository
	stockRepo *store.StockRepository
	handler   *order.EventHandler
	stock     *stock.Coordinator
	vouchers  *voucher.Tracker
	partners  *partner.Registry
	metrics   *metrics.EventMetrics
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", args[0], usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer a.db.Close()

	err = cmd(ctx, a, args[1:])
	a.reportMetrics(ctx)
	if err != nil {
		var verr *order.ValidationError
		switch {
		case errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintln(os.Stderr, err.Error())
			return 2
		case errors.As(err, &verr):
			fmt.Fprintln(os.Stderr, verr.Error())
			return 3
		}
		a.logg.Error(ctx, "command failed", err)
		return 1
	}
	return 0
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logg := logger.New(logger.Options{
		ServiceName: cfg.Log.ServiceName,
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		WarnStack:   cfg.Log.WarnStack,
		Output:      os.Stderr,
	})

	pipelineCfg, err := config.LoadPipeline(cfg.Pipeline.File)
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	partners, err := partner.NewRegistry(pipelineCfg.Partners)
	if err != nil {
		return nil, fmt.Errorf("build partner registry: %w", err)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &app{
		db:        db,
		logg:      logg,
		orders:    store.NewOrderRepository(db),
		catalogue: store.NewCatalogueRepository(db),
		offers:    store.NewOfferRepository(db),
		stockRepo: store.NewStockRepository(db),
		partners:  partners,
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewEventMetrics(a.registry)
	}

	opts := database.DefaultTxOptions()
	opts.MaxRetries = cfg.Database.MaxRetries
	tx := database.NewTxRunner(db, opts)

	if a.stock, err = stock.NewCoordinator(a.stockRepo, tx, logg, a.metrics); err != nil {
		db.Close()
		return nil, err
	}
	if a.vouchers, err = voucher.NewTracker(store.NewVoucherRepository(db), tx, logg); err != nil {
		db.Close()
		return nil, err
	}
	a.handler, err = order.NewEventHandler(a.orders, tx, order.NewPipeline(pipelineCfg), a.stock, logg, a.metrics)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// reportMetrics logs every non-zero counter the command touched.
func (a *app) reportMetrics(ctx context.Context) {
	if a.registry == nil {
		return
	}
	families, err := a.registry.Gather()
	if err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "reason", err.Error()), "gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil || c.GetValue() == 0 {
				continue
			}
			fields := map[string]any{"metric": mf.GetName(), "value": c.GetValue()}
			for _, l := range m.GetLabel() {
				fields[l.GetName()] = l.GetValue()
			}
			a.logg.Info(a.logg.WithFields(ctx, fields), "metric")
		}
	}
}
