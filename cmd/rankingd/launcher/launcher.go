package launcher

import (
	"context"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/bolt"
	"github.com/cheeseformice/ranking/http"
	"github.com/cheeseformice/ranking/index"
	"github.com/cheeseformice/ranking/internal/fs"
	"github.com/cheeseformice/ranking/kit/cli"
	"github.com/cheeseformice/ranking/kit/prom"
	"github.com/cheeseformice/ranking/kit/signals"
	rankinglogger "github.com/cheeseformice/ranking/logger"
	"github.com/cheeseformice/ranking/nats"
	"github.com/cheeseformice/ranking/persist"
	"github.com/cheeseformice/ranking/pkg/lifecycle"
	"github.com/cheeseformice/ranking/query"
	"github.com/cheeseformice/ranking/scheduler"
	"github.com/cheeseformice/ranking/source"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewCommand returns the rankingd command. It serves until SIGINT or SIGTERM.
func NewCommand(v *viper.Viper) (*cobra.Command, error) {
	l := NewLauncher()
	cmd, err := cli.NewCommand(v, &cli.Program{
		Name: "rankingd",
		Opts: l.options(),
		Run: func() error {
			ctx := signals.WithStandardSignals(context.Background())
			if err := l.run(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			// Attempt clean shutdown.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			l.Shutdown(ctx)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	cmd.Short = "Serve approximate leaderboard ranks"
	return cmd, nil
}

// Launcher represents the main program execution.
type Launcher struct {
	wg      sync.WaitGroup
	cancel  func()
	running bool

	logLevel  zapcore.Level
	logFormat string

	dbDriver           string
	dbDSN              string
	indexPathTemplate  string
	manifestPath       string
	qualificationFile  string
	qualificationTable string
	tablesConfig       string

	stride          int
	rebuildAt       string
	retireGrace     time.Duration
	truncateZero    bool
	maxSamples      int64
	shutdownTimeout time.Duration

	httpBindAddress string
	httpPort        int

	natsURL            string
	natsUpdateSubject  string
	natsRebuiltSubject string

	logger     *zap.Logger
	reg        *prom.Registry
	source     *source.SQL
	catalog    *index.Catalog
	scheduler  *scheduler.Scheduler
	engine     *query.Engine
	httpServer *nethttp.Server
	closers    []io.Closer

	Stdout io.Writer
}

// NewLauncher returns a new instance of Launcher writing logs to stdout.
func NewLauncher() *Launcher {
	return &Launcher{
		Stdout: os.Stdout,
	}
}

func (m *Launcher) options() []cli.Opt {
	dir, err := fs.RankingDir()
	if err != nil {
		dir = ".ranking"
	}

	return []cli.Opt{
		{
			DestP:   &m.logLevel,
			Flag:    "log-level",
			Default: zapcore.InfoLevel,
			Desc:    "supported log levels are debug, info, warn and error",
		},
		{
			DestP:   &m.logFormat,
			Flag:    "log-format",
			Default: "auto",
			Desc:    "log format: auto, console, logfmt or json",
		},
		{
			DestP:   &m.dbDriver,
			Flag:    "db-driver",
			Default: source.DriverMySQL,
			Desc:    fmt.Sprintf("source database driver (%s or %s)", source.DriverMySQL, source.DriverSQLite),
		},
		{
			DestP: &m.dbDSN,
			Flag:  "db-dsn",
			Desc:  "source database data source name",
		},
		{
			DestP:   &m.indexPathTemplate,
			Flag:    "index-path-template",
			Default: filepath.Join(dir, persist.DefaultFilePattern),
			Desc:    "path of persisted series files; must contain {table} and {stat}",
		},
		{
			DestP:   &m.manifestPath,
			Flag:    "manifest-path",
			Default: filepath.Join(dir, "manifest.bolt"),
			Desc:    "path to the boltdb generation manifest",
		},
		{
			DestP: &m.qualificationFile,
			Flag:  "qualification-file",
			Desc:  "optional file of field = minimum lines restricting ranked rows",
		},
		{
			DestP:   &m.qualificationTable,
			Flag:    "qualification-table",
			Default: ranking.DefaultQualificationTable,
			Desc:    "table the qualification file applies to",
		},
		{
			DestP: &m.tablesConfig,
			Flag:  "tables-config",
			Desc:  "optional TOML file of [[table]] entries; defaults to player and tribe_stats",
		},
		{
			DestP:   &m.stride,
			Flag:    "stride",
			Default: ranking.DefaultStride,
			Desc:    "sampling stride; every stride-th row is indexed",
		},
		{
			DestP:   &m.rebuildAt,
			Flag:    "rebuild-at",
			Default: scheduler.DefaultRebuildAt,
			Desc:    "local wall clock time of the daily rebuild (hh:mm:ss)",
		},
		{
			DestP:   &m.retireGrace,
			Flag:    "retire-grace",
			Default: index.DefaultRetireGrace,
			Desc:    "delay before a replaced generation is released",
		},
		{
			DestP:   &m.truncateZero,
			Flag:    "truncate-zero",
			Default: true,
			Desc:    "end a series at the first sampled zero as well as null",
		},
		{
			DestP:   &m.maxSamples,
			Flag:    "max-samples",
			Default: int64(index.DefaultMaxSamples),
			Desc:    "maximum number of samples of one series",
		},
		{
			DestP:   &m.shutdownTimeout,
			Flag:    "shutdown-timeout",
			Default: scheduler.DefaultShutdownTimeout,
			Desc:    "how long shutdown waits for in-flight builds",
		},
		{
			DestP:   &m.httpBindAddress,
			Flag:    "http-bind-address",
			Default: ":8093",
			Desc:    "bind address for the REST HTTP API",
		},
		{
			DestP: &m.natsURL,
			Flag:  "nats-url",
			Desc:  "NATS server announcing updates and rebuilds; empty disables the bus",
		},
		{
			DestP:   &m.natsUpdateSubject,
			Flag:    "nats-update-subject",
			Default: nats.DefaultUpdateSubject,
			Desc:    "subject of update announcements",
		},
		{
			DestP:   &m.natsRebuiltSubject,
			Flag:    "nats-rebuilt-subject",
			Default: nats.DefaultRebuiltSubject,
			Desc:    "subject of rebuild announcements",
		},
	}
}

// Running returns true if the main Launcher has started running.
func (m *Launcher) Running() bool {
	return m.running
}

// Registry returns the prometheus metrics registry.
func (m *Launcher) Registry() *prom.Registry {
	return m.reg
}

// Logger returns the launchers logger.
func (m *Launcher) Logger() *zap.Logger {
	return m.logger
}

// URL returns the URL to connect to the HTTP server.
func (m *Launcher) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", m.httpPort)
}

// Scheduler returns the rebuild scheduler.
func (m *Launcher) Scheduler() *scheduler.Scheduler {
	return m.scheduler
}

// Run executes the program with the given CLI arguments and returns once
// every service is started.
func (m *Launcher) Run(ctx context.Context, args ...string) error {
	cmd, err := cli.NewCommand(viper.New(), &cli.Program{
		Name: "rankingd",
		Opts: m.options(),
		Run: func() error {
			return m.run(ctx)
		},
	})
	if err != nil {
		return err
	}
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (m *Launcher) run(ctx context.Context) (err error) {
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)

	logconf := &rankinglogger.Config{
		Format: m.logFormat,
		Level:  m.logLevel,
	}
	m.logger, err = logconf.New(m.Stdout)
	if err != nil {
		return err
	}
	m.logger.Info("Starting rankingd",
		zap.String("db_driver", m.dbDriver),
		zap.Int("stride", m.stride),
		zap.String("rebuild_at", m.rebuildAt),
	)

	m.reg = prom.NewRegistry(m.logger.With(zap.String("service", "prom_registry")))

	tables, err := loadTables(m.tablesConfig)
	if err != nil {
		return err
	}
	if m.stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", m.stride)
	}

	tmpl, err := persist.ParseTemplate(m.indexPathTemplate)
	if err != nil {
		return err
	}
	sched, err := scheduler.ParseSchedule(m.rebuildAt, time.Local)
	if err != nil {
		return err
	}

	var q ranking.Qualification
	if m.qualificationFile != "" {
		if q, err = source.LoadQualification(m.qualificationFile); err != nil {
			return err
		}
		m.logger.Info("Loaded qualification",
			zap.String("table", m.qualificationTable),
			zap.Int("conditions", len(q)))
	}

	m.catalog, err = index.NewCatalog(tables,
		index.WithRetireGrace(m.retireGrace),
		index.WithLogger(m.logger.With(zap.String("service", "index"))),
	)
	if err != nil {
		return err
	}

	m.source, err = source.Open(ctx, m.dbDriver, m.dbDSN, m.logger.With(zap.String("service", "source")))
	if err != nil {
		m.logger.Error("Failed opening source database", zap.Error(err))
		return err
	}
	m.closers = append(m.closers, m.source)

	var opener lifecycle.Opener
	manifest := bolt.NewManifest(m.manifestPath, m.logger.With(zap.String("service", "bolt")))
	opener.Open(ctx, manifest)

	var notifier ranking.Notifier = ranking.NopNotifier{}
	if m.natsURL != "" {
		publisher := nats.NewPublisher(m.logger, m.natsURL)
		publisher.UpdateSubject = m.natsUpdateSubject
		publisher.RebuiltSubject = m.natsRebuiltSubject
		opener.Open(ctx, publisher)
		notifier = publisher
	}
	if err := opener.Done(); err != nil {
		m.logger.Error("Failed opening services", zap.Error(err))
		m.source.Close()
		return err
	}
	m.closers = append(m.closers, opener.Opened()...)

	builder := index.NewBuilder(m.source)
	builder.Stride = m.stride
	builder.MaxSamples = m.maxSamples
	builder.Logger = m.logger.With(zap.String("service", "builder"))
	if !m.truncateZero {
		builder.Policy = ranking.TruncateNull
	}

	store := persist.NewStore(tmpl)
	store.Logger = m.logger.With(zap.String("service", "persist"))

	opts := []scheduler.Option{
		scheduler.WithLogger(m.logger.With(zap.String("service", "scheduler"))),
		scheduler.WithPersistence(store, manifest),
		scheduler.WithNotifier(notifier),
		scheduler.WithSchedule(sched),
		scheduler.WithShutdownTimeout(m.shutdownTimeout),
	}
	if q != nil {
		opts = append(opts, scheduler.WithQualification(m.qualificationTable, q))
	}
	m.scheduler = scheduler.New(m.catalog, builder, opts...)
	m.engine = query.NewEngine(m.catalog)

	handler := http.NewHandler(m.logger.With(zap.String("service", "http")), m.engine, m.scheduler, m.reg.HTTPHandler())

	m.reg.MustRegister(manifest)
	m.reg.MustRegisterAll(m.catalog, store, m.scheduler, m.engine, handler)

	if err := m.scheduler.Open(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", m.httpBindAddress)
	if err != nil {
		m.logger.Error("Failed to set up TCP listener", zap.String("addr", m.httpBindAddress), zap.Error(err))
		m.scheduler.Shutdown()
		m.closeServices()
		return err
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		m.httpPort = addr.Port
	}

	m.httpServer = &nethttp.Server{
		Handler:  handler,
		ErrorLog: zap.NewStdLog(m.logger),
	}
	m.wg.Add(1)
	go func(log *zap.Logger) {
		defer m.wg.Done()
		log.Info("Listening", zap.String("transport", "http"), zap.String("addr", ln.Addr().String()))

		if err := m.httpServer.Serve(ln); err != nethttp.ErrServerClosed {
			log.Error("Failed to serve HTTP", zap.Error(err))
			m.cancel()
		}
		log.Info("Stopping")
	}(m.logger.With(zap.String("service", "http")))

	return nil
}

// Shutdown stops the scheduler, then the HTTP server, and closes every
// remaining service.
func (m *Launcher) Shutdown(ctx context.Context) {
	m.logger.Info("Stopping", zap.String("service", "scheduler"))
	m.scheduler.Shutdown()

	m.logger.Info("Stopping", zap.String("service", "http"))
	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.logger.Warn("Failed to shut down HTTP server", zap.Error(err))
	}

	m.closeServices()

	m.wg.Wait()
	m.cancel()
	m.logger.Sync()
}

// closeServices closes the opened services in reverse open order.
func (m *Launcher) closeServices() {
	var closer lifecycle.Closer
	for i := len(m.closers) - 1; i >= 0; i-- {
		closer.Close(m.closers[i])
	}
	m.closers = nil
	if err := closer.Done(); err != nil {
		m.logger.Warn("Failed closing services", zap.Error(err))
	}
}
