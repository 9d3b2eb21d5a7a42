// Package config loads relmigrate settings from a YAML file and RELMIGRATE_ environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/adapters/database"
	"github.com/bookshelf/relmigrate/entity"
	"github.com/bookshelf/relmigrate/idmap"
	"github.com/bookshelf/relmigrate/migration"
)

const (
	EnvPrefix     = "RELMIGRATE"
	DefaultFile   = "relmigrate"
	TargetSurreal = "surrealdb"
	TargetMemory  = "memory"
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Settings struct {
	Job        JobSettings      `mapstructure:"job"`
	Source     DatabaseSettings `mapstructure:"source"`
	IDStore    DatabaseSettings `mapstructure:"idstore"`
	Repository DatabaseSettings `mapstructure:"repository"`
	Target     TargetSettings   `mapstructure:"target"`
	Batch      BatchSettings    `mapstructure:"batch"`
	Report     ReportSettings   `mapstructure:"report"`
	Metrics    MetricsSettings  `mapstructure:"metrics"`
	Log        LogSettings      `mapstructure:"log"`
}

type JobSettings struct {
	Name string `mapstructure:"name"`
}

type DatabaseSettings struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Name          string        `mapstructure:"name"`
	MaxOpenConns  int           `mapstructure:"maxopenconns"`
	SlowThreshold time.Duration `mapstructure:"slowthreshold"`
	// LogLevel is the SQL log level: silent, error, warn or info.
	LogLevel string `mapstructure:"loglevel"`
}

// TargetSettings selects the document store. The surrealdb driver needs a
// SurrealDB 2.x server, batches are written with UPSERT.
type TargetSettings struct {
	Driver    string `mapstructure:"driver"`
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
}

type CacheSettings struct {
	MaximumSize int            `mapstructure:"maximumsize"`
	PerType     map[string]int `mapstructure:"pertype"`
}

// PoolSettings sizes chunk processing. Core is the number of chunks of one step in
// flight, Max the worker count of the shared chunk pool and Queue the number of
// chunks allowed to wait for a worker, 0 meaning unbounded. A full queue holds back
// further chunks until a worker frees up. Steps caps the partitions running at once.
type PoolSettings struct {
	Core  int `mapstructure:"core"`
	Max   int `mapstructure:"max"`
	Queue int `mapstructure:"queue"`
	Steps int `mapstructure:"steps"`
}

// BatchSettings maps are keyed by entity kind: author, genre, book, comment.
type BatchSettings struct {
	Strict     bool             `mapstructure:"strict"`
	Cache      CacheSettings    `mapstructure:"cache"`
	Pool       PoolSettings     `mapstructure:"pool"`
	ChunkSizes map[string]int   `mapstructure:"chunksizes"`
	Strides    map[string]int64 `mapstructure:"strides"`
	Partitions map[string]int   `mapstructure:"partitions"`
}

type FTPSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Root     string        `mapstructure:"root"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ReportSettings struct {
	Enabled     bool        `mapstructure:"enabled"`
	Dir         string      `mapstructure:"dir"`
	NamePattern string      `mapstructure:"namepattern"`
	FTP         FTPSettings `mapstructure:"ftp"`
}

type MetricsSettings struct {
	// Addr is the listen address of the /metrics endpoint, empty disables it.
	Addr string `mapstructure:"addr"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("job.name", migration.DefaultJobName)

	v.SetDefault("source.driver", database.DriverMySQL)
	v.SetDefault("source.host", "localhost")
	v.SetDefault("source.port", 3306)
	v.SetDefault("source.name", "library")
	v.SetDefault("source.maxopenconns", 20)
	v.SetDefault("source.slowthreshold", time.Second)
	v.SetDefault("source.loglevel", "warn")

	for _, key := range []string{"idstore", "repository"} {
		v.SetDefault(key+".driver", database.DriverSQLite)
		v.SetDefault(key+".name", "relmigrate.db")
		v.SetDefault(key+".maxopenconns", 20)
		v.SetDefault(key+".slowthreshold", time.Second)
		v.SetDefault(key+".loglevel", "warn")
	}

	v.SetDefault("target.driver", TargetSurreal)
	v.SetDefault("target.url", "ws://localhost:8000/rpc")
	v.SetDefault("target.namespace", "library")
	v.SetDefault("target.database", "library")
	v.SetDefault("target.user", "root")
	v.SetDefault("target.password", "root")

	v.SetDefault("batch.strict", false)
	v.SetDefault("batch.cache.maximumsize", idmap.DefaultMaximumSize)
	v.SetDefault("batch.pool.core", 4)
	v.SetDefault("batch.pool.max", 8)
	v.SetDefault("batch.pool.queue", 0)
	v.SetDefault("batch.pool.steps", 16)
	v.SetDefault("batch.chunksizes", map[string]interface{}{
		string(entity.KindAuthor):  500,
		string(entity.KindGenre):   1000,
		string(entity.KindBook):    200,
		string(entity.KindComment): 5000,
	})
	v.SetDefault("batch.strides", map[string]interface{}{
		string(entity.KindAuthor):  5000,
		string(entity.KindGenre):   200,
		string(entity.KindBook):    10000,
		string(entity.KindComment): 20000,
	})
	v.SetDefault("batch.partitions", map[string]interface{}{
		string(entity.KindAuthor):  1,
		string(entity.KindGenre):   1,
		string(entity.KindBook):    1,
		string(entity.KindComment): 1,
	})

	v.SetDefault("report.enabled", false)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.ftp.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", FormatConsole)
}

// Load reads path, or ./relmigrate.yaml when path is empty and the file exists, applies
// environment overrides and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Job.Name) == "" {
		return errors.New("job.name must not be empty")
	}
	for key, db := range map[string]DatabaseSettings{"source": s.Source, "idstore": s.IDStore, "repository": s.Repository} {
		if db.Driver != database.DriverMySQL && db.Driver != database.DriverSQLite {
			return fmt.Errorf("%s.driver: unknown driver %q", key, db.Driver)
		}
		if db.DSN == "" && db.Name == "" {
			return fmt.Errorf("%s: dsn or name is required", key)
		}
		if _, err := gormLevel(db.LogLevel); err != nil {
			return fmt.Errorf("%s.loglevel: %w", key, err)
		}
	}
	switch s.Target.Driver {
	case TargetSurreal:
		if s.Target.URL == "" {
			return errors.New("target.url is required for surrealdb")
		}
	case TargetMemory:
	default:
		return fmt.Errorf("target.driver: unknown driver %q", s.Target.Driver)
	}

	pool := s.Batch.Pool
	if pool.Core <= 0 || pool.Max <= 0 {
		return errors.New("batch.pool: core and max must be positive")
	}
	if pool.Core > pool.Max {
		return fmt.Errorf("batch.pool: core %d exceeds max %d", pool.Core, pool.Max)
	}
	if pool.Steps <= 0 {
		return errors.New("batch.pool.steps must be positive")
	}
	if pool.Queue < 0 {
		return errors.New("batch.pool.queue must not be negative")
	}
	for _, kind := range entity.Kinds {
		if s.Batch.ChunkSizes[string(kind)] <= 0 {
			return fmt.Errorf("batch.chunksizes.%s must be positive", kind)
		}
		if s.Batch.Strides[string(kind)] <= 0 {
			return fmt.Errorf("batch.strides.%s must be positive", kind)
		}
		if p, ok := s.Batch.Partitions[string(kind)]; ok && p <= 0 {
			return fmt.Errorf("batch.partitions.%s must be positive", kind)
		}
	}
	for _, m := range []map[string]int{s.Batch.ChunkSizes, s.Batch.Partitions} {
		for key := range m {
			if _, err := entity.ParseKind(key); err != nil {
				return fmt.Errorf("batch: %w", err)
			}
		}
	}

	if s.Report.Enabled && s.Report.FTP.Enabled && s.Report.FTP.Addr == "" {
		return errors.New("report.ftp.addr is required when ftp export is enabled")
	}
	if s.Log.Format != FormatConsole && s.Log.Format != FormatJSON {
		return fmt.Errorf("log.format: unknown format %q", s.Log.Format)
	}
	return nil
}

func gormLevel(name string) (gormlogger.LogLevel, error) {
	switch strings.ToLower(name) {
	case "", "warn":
		return gormlogger.Warn, nil
	case "silent":
		return gormlogger.Silent, nil
	case "error":
		return gormlogger.Error, nil
	case "info":
		return gormlogger.Info, nil
	default:
		return 0, fmt.Errorf("unknown level %q", name)
	}
}

// Database converts a database section to the connection config.
func (d DatabaseSettings) Database() database.Config {
	level, _ := gormLevel(d.LogLevel)
	return database.Config{
		Driver:        d.Driver,
		DSN:           d.DSN,
		Host:          d.Host,
		Port:          d.Port,
		User:          d.User,
		Password:      d.Password,
		Name:          d.Name,
		MaxOpenConns:  d.MaxOpenConns,
		SlowThreshold: d.SlowThreshold,
		LogLevel:      level,
	}
}

// CacheOptions returns the id mapping cache sizing.
func (s *Settings) CacheOptions() idmap.Options {
	return idmap.Options{MaximumSize: s.Batch.Cache.MaximumSize, PerType: s.Batch.Cache.PerType}
}

// MigrationOptions returns the job options for the batch section.
func (s *Settings) MigrationOptions() migration.Options {
	opts := migration.DefaultOptions()
	opts.JobName = s.Job.Name
	opts.Strict = s.Batch.Strict
	opts.Concurrency = uint(s.Batch.Pool.Core)
	for _, kind := range entity.Kinds {
		if size := s.Batch.ChunkSizes[string(kind)]; size > 0 {
			opts.ChunkSizes[kind] = uint(size)
		}
		if stride := s.Batch.Strides[string(kind)]; stride > 0 {
			opts.Strides[kind] = stride
		}
		if p := s.Batch.Partitions[string(kind)]; p > 0 {
			opts.Partitions[kind] = uint(p)
		}
	}
	return opts
}

// LogLevel returns the engine log level.
func (s *Settings) LogLevel() relmigrate.Level {
	return relmigrate.ParseLevel(s.Log.Level)
}
