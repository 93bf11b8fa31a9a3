package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/noticeledger/internal/adapters/http/api"
	"github.com/okian/noticeledger/internal/adapters/http/swagger"
	"github.com/okian/noticeledger/internal/adapters/ledger"
	"github.com/okian/noticeledger/internal/adapters/mq/worker"
	"github.com/okian/noticeledger/internal/adapters/sink"
	"github.com/okian/noticeledger/internal/adapters/stream"
	"github.com/okian/noticeledger/internal/adapters/window"
	app "github.com/okian/noticeledger/internal/app"
	"github.com/okian/noticeledger/internal/config"
	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/extract"
	"github.com/okian/noticeledger/pkg/logger"
)

// daemon holds every long-lived component of the process.
type daemon struct {
	cfg     *config.Config
	logger  logger.Logger
	catalog *catalog.Loader
	ledger  *ledger.FileLedger
	window  *window.FileStore
	sink    *sink.Async
	stream  *stream.Supervisor
	svc     *app.Service
	worker  *worker.InMemoryWorker
	mux     *http.ServeMux

	stopWatch func()
}

// newDaemon opens the stores and wires the components. Only catalog and
// store initialisation failures are returned.
func newDaemon(ctx context.Context, cfg *config.Config, l logger.Logger) (*daemon, error) {
	loader, err := catalog.NewLoader(cfg.CatalogPath, catalog.WithLoaderLogger(l.Named("catalog")))
	if err != nil {
		return nil, err
	}

	led, err := ledger.Open(cfg.LedgerPath, ledger.WithLogger(l.Named("ledger")))
	if err != nil {
		return nil, err
	}
	win, err := window.Open(ctx, cfg.WindowPath,
		window.WithCapacity(cfg.MaxActiveEvents),
		window.WithBackupRetention(cfg.BackupRetentionCount),
		window.WithLogger(l.Named("window")),
	)
	if err != nil {
		_ = led.Close()
		return nil, err
	}

	async := sink.NewAsync([]sink.Sink{sink.NewLogSink(l.Named("notices"))},
		sink.WithBuffer(cfg.SinkBuffer),
		sink.WithLogger(l.Named("sink")),
	)

	sup := stream.NewSupervisor(
		stream.SpoolDialer(cfg.SpoolDir,
			stream.WithSpoolHeartbeat(cfg.HeartbeatTopic),
			stream.WithSpoolScanInterval(cfg.SpoolPoll()),
			stream.WithSpoolLogger(l.Named("spool")),
		),
		stream.WithHeartbeatTopic(cfg.HeartbeatTopic),
		stream.WithHeartbeatTimeout(cfg.ReconnectTimeout()),
		stream.WithCheckInterval(cfg.WatchdogInterval()),
		stream.WithBackoff(stream.Backoff{Base: cfg.ReconnectBaseDelay(), Max: cfg.ReconnectMaxDelay()}),
		stream.WithMaxAttempts(cfg.ReconnectMaxAttempts),
		stream.WithCooldown(cfg.ReconnectCooldown()),
		stream.WithProbeTimeout(cfg.ProbeTimeout()),
		stream.WithLogger(l.Named("stream")),
	)

	svc := app.New(led, win,
		app.WithLogger(l.Named("service")),
		app.WithCatalog(loader.Current()),
		app.WithExtractor(extract.New(
			extract.WithStrict(cfg.StrictParsing),
			extract.WithPrecision(cfg.DecimalPrecision),
			extract.WithLogger(l.Named("extract")),
		)),
		app.WithNotifier(async),
		app.WithStream(sup),
		app.WithHeartbeatTopic(cfg.HeartbeatTopic),
		app.WithSkipTestTopics(cfg.SkipTestTopics),
		app.WithStateRefresh(cfg.StateRefresh()),
	)

	w := worker.NewInMemoryWorker(sup, svc,
		worker.WithName("notices"),
		worker.WithPollTimeout(cfg.PollTimeout()),
		worker.WithStopOn(stream.ErrClosed),
		worker.WithLogger(l.Named("worker")),
	)

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	swagger.Register(ctx, mux)

	return &daemon{
		cfg:     cfg,
		logger:  l,
		catalog: loader,
		ledger:  led,
		window:  win,
		sink:    async,
		stream:  sup,
		svc:     svc,
		worker:  w,
		mux:     mux,
	}, nil
}

// start rebuilds state, connects the stream and runs the consume loop.
func (d *daemon) start(ctx context.Context) error {
	d.sink.Start(ctx)
	if err := d.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	if err := d.stream.Subscribe(ctx, d.svc.Topics()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := d.stream.Connect(ctx); err != nil {
		d.logger.Warn(ctx, "initial stream connect failed; watchdog will retry", logger.Error(err))
	}
	d.stream.Start(ctx)

	if d.cfg.CatalogWatch {
		d.catalog.OnChange(func(c *catalog.Catalog) {
			d.svc.SetCatalog(c)
			if err := d.stream.Subscribe(ctx, d.svc.Topics()); err != nil && !errors.Is(err, stream.ErrClosed) {
				d.logger.Warn(ctx, "resubscribe after catalog reload failed", logger.Error(err))
			}
		})
		stop, err := d.catalog.Watch(ctx)
		if err != nil {
			d.logger.Warn(ctx, "catalog watch disabled", logger.Error(err))
		} else {
			d.stopWatch = stop
		}
	}

	go d.worker.Run(ctx)
	return nil
}

// stop finishes the in-flight notice, then closes the stream and stores.
func (d *daemon) stop(ctx context.Context) {
	if d.stopWatch != nil {
		d.stopWatch()
	}
	if err := d.worker.Shutdown(ctx); err != nil {
		d.logger.Warn(ctx, "worker shutdown", logger.Error(err))
	}
	if err := d.stream.Close(); err != nil {
		d.logger.Warn(ctx, "stream close", logger.Error(err))
	}
	d.svc.Stop()
	if err := d.sink.Close(ctx); err != nil {
		d.logger.Warn(ctx, "sink close", logger.Error(err))
	}
	if err := d.ledger.Close(); err != nil {
		d.logger.Warn(ctx, "ledger close", logger.Error(err))
	}
}
