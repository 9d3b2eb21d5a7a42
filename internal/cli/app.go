package cli

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/adapters/database"
	"github.com/bookshelf/relmigrate/adapters/idstore"
	"github.com/bookshelf/relmigrate/adapters/repository"
	"github.com/bookshelf/relmigrate/adapters/source"
	"github.com/bookshelf/relmigrate/adapters/txn"
	"github.com/bookshelf/relmigrate/docstore"
	"github.com/bookshelf/relmigrate/extensions/files"
	"github.com/bookshelf/relmigrate/extensions/metrics"
	"github.com/bookshelf/relmigrate/extensions/report"
	"github.com/bookshelf/relmigrate/idmap"
	"github.com/bookshelf/relmigrate/internal/config"
	"github.com/bookshelf/relmigrate/migration"
)

// app holds the wired migration and everything that must be closed after the command.
type app struct {
	settings  *config.Settings
	migration *migration.Migration
	closers   []func() error
}

func newApp(ctx context.Context, opts *RootOptions) (a *app, err error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.MetricsAddr != "" {
		settings.Metrics.Addr = opts.MetricsAddr
	}
	setupLogger(settings)
	relmigrate.ConfigureChunkPool(settings.Batch.Pool.Max, settings.Batch.Pool.Queue)
	relmigrate.SetMaxRunningSteps(settings.Batch.Pool.Steps)

	a = &app{settings: settings}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	srcDB, err := a.open(settings.Source)
	if err != nil {
		return nil, errors.Wrap(err, "source database")
	}
	repoDB, err := a.open(settings.Repository)
	if err != nil {
		return nil, errors.Wrap(err, "repository database")
	}
	idDB := repoDB
	if settings.IDStore != settings.Repository {
		if idDB, err = a.open(settings.IDStore); err != nil {
			return nil, errors.Wrap(err, "translation store database")
		}
	}

	repo, err := repository.New(repoDB)
	if err != nil {
		return nil, err
	}
	store, err := idstore.New(idDB)
	if err != nil {
		return nil, err
	}
	target, err := openTarget(settings.Target)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, target.Close)

	migrationOpts := settings.MigrationOptions()
	if l := reportListener(settings.Report); l != nil {
		migrationOpts.Listeners = append(migrationOpts.Listeners, l)
	}
	if settings.Metrics.Addr != "" {
		m, er := metrics.NewStepMetrics(prometheus.NewRegistry())
		if er != nil {
			return nil, errors.Wrap(er, "register metrics")
		}
		migrationOpts.Listeners = append(migrationOpts.Listeners, m)
		go func() {
			if er := m.Serve(ctx, settings.Metrics.Addr); er != nil {
				relmigrate.DefaultLogger.Error(ctx, "metrics endpoint stopped, err:%v", er)
			}
		}()
	}

	a.migration, err = migration.New(repo, txn.NewTransactionManager(repoDB), source.New(srcDB),
		idmap.NewService(store, settings.CacheOptions()), store, target, migrationOpts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) open(s config.DatabaseSettings) (*gorm.DB, error) {
	db, err := database.Open(s.Database())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	return db, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			relmigrate.DefaultLogger.Warn(context.Background(), "close resource error:%v", err)
		}
	}
	a.closers = nil
}

func setupLogger(settings *config.Settings) {
	if settings.Log.Format == config.FormatJSON {
		relmigrate.SetLogger(relmigrate.NewLogger(os.Stdout, settings.LogLevel()))
		return
	}
	relmigrate.SetLogger(relmigrate.NewConsoleLogger(os.Stderr, settings.LogLevel()))
}

func openTarget(s config.TargetSettings) (docstore.Store, error) {
	if s.Driver == config.TargetMemory {
		return docstore.NewMemoryStore(), nil
	}
	store, err := docstore.OpenSurreal(docstore.SurrealConfig{
		URL:       s.URL,
		Namespace: s.Namespace,
		Database:  s.Database,
		User:      s.User,
		Password:  s.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "target document store")
	}
	return store, nil
}

func reportListener(s config.ReportSettings) *report.Listener {
	if !s.Enabled {
		return nil
	}
	var archives []files.FileStore
	if s.FTP.Enabled {
		archives = append(archives, &files.FTPFileSystem{
			Addr:     s.FTP.Addr,
			User:     s.FTP.User,
			Password: s.FTP.Password,
			Root:     s.FTP.Root,
			Timeout:  s.FTP.Timeout,
		})
	}
	return report.NewListener(&files.LocalFileSystem{Root: s.Dir}, s.NamePattern, archives...)
}
