// Package migration assembles the library migration job: schema bootstrap, authors and
// genres in parallel, then books, then comments.
package migration

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/docstore"
	"github.com/bookshelf/relmigrate/entity"
	"github.com/bookshelf/relmigrate/idmap"
	"github.com/bookshelf/relmigrate/translate"
)

const (
	DefaultJobName = "library-migration"
	SchemaStepName = "schema"
)

// Source provides a reader per entity kind.
type Source interface {
	Reader(kind entity.Kind) relmigrate.Reader
}

// Resetter empties the translation store.
type Resetter interface {
	Reset(ctx context.Context) error
}

type Options struct {
	JobName string
	// Strict fails a step on the first dangling foreign key instead of filtering the row.
	Strict bool
	// Concurrency is the number of chunks of one step processed at once.
	Concurrency uint
	ChunkSizes  map[entity.Kind]uint
	Strides     map[entity.Kind]int64
	Partitions  map[entity.Kind]uint
	// Listeners are extra job, step or chunk listeners attached to every step.
	Listeners []interface{}
	// Progress replaces the default progress reporter when set.
	Progress *relmigrate.ProgressReporter
}

// DefaultOptions returns the chunk sizes and progress strides tuned for the library data.
func DefaultOptions() Options {
	return Options{
		JobName:     DefaultJobName,
		Concurrency: 4,
		ChunkSizes: map[entity.Kind]uint{
			entity.KindAuthor:  500,
			entity.KindGenre:   1000,
			entity.KindBook:    200,
			entity.KindComment: 5000,
		},
		Strides: map[entity.Kind]int64{
			entity.KindAuthor:  5000,
			entity.KindGenre:   200,
			entity.KindBook:    10000,
			entity.KindComment: 20000,
		},
		Partitions: map[entity.Kind]uint{},
	}
}

type Migration struct {
	engine   relmigrate.Engine
	job      relmigrate.Job
	ids      *idmap.Service
	target   docstore.Store
	resetter Resetter
	name     string
}

// New builds the job and registers it with a new engine.
func New(repository relmigrate.Repository, txMgr relmigrate.TransactionManager, src Source, ids *idmap.Service, resetter Resetter, target docstore.Store, opts Options) (*Migration, error) {
	if opts.JobName == "" {
		opts.JobName = DefaultJobName
	}
	steps := relmigrate.NewStepBuilderFactory(repository, txMgr)
	build := func(kind entity.Kind) relmigrate.Step {
		return steps.Get(kind.Collection()).
			Reader(src.Reader(kind)).
			Processor(&translate.Processor{Translator: translate.For(kind, ids)}).
			Writer(&documentWriter{store: target, collection: kind.Collection()}).
			ChunkSize(opts.ChunkSizes[kind]).
			Concurrency(opts.Concurrency).
			Strict(opts.Strict).
			Partitions(opts.Partitions[kind]).
			Build()
	}
	schema := steps.Get(SchemaStepName).Task(func(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
		if err := docstore.EnsureSchema(ctx, target); err != nil {
			return relmigrate.NewBatchError(relmigrate.ErrCodeTargetWriteFailure, "ensure target schema", err)
		}
		return nil
	}).Build()

	progress := opts.Progress
	if progress == nil {
		strides := make(map[string]int64, len(opts.Strides))
		for kind, stride := range opts.Strides {
			strides[kind.Collection()] = stride
		}
		progress = relmigrate.NewProgressReporter(1000, strides)
	}
	listeners := append([]interface{}{jobLoggingListener{}, stepLoggingListener{}, chunkErrorListener{}, progress}, opts.Listeners...)

	job := relmigrate.NewJobBuilderFactory(repository).Get(opts.JobName).
		Start(schema).
		Split(build(entity.KindAuthor), build(entity.KindGenre)).
		Next(build(entity.KindBook)).
		Next(build(entity.KindComment)).
		Listener(listeners...).
		Build()

	engine := relmigrate.NewEngine(repository)
	if err := engine.Register(job); err != nil {
		return nil, err
	}
	return &Migration{engine: engine, job: job, ids: ids, target: target, resetter: resetter, name: opts.JobName}, nil
}

func (m *Migration) JobName() string {
	return m.name
}

func (m *Migration) Engine() relmigrate.Engine {
	return m.engine
}

// Start runs a fresh migration and waits for it to finish.
func (m *Migration) Start(ctx context.Context) (int64, error) {
	return m.engine.Start(ctx, m.name)
}

// Restart resumes the latest failed execution. executionId 0 means the latest execution
// of the job.
func (m *Migration) Restart(ctx context.Context, executionId int64) (int64, error) {
	if executionId == 0 {
		return m.engine.Restart(ctx, m.name)
	}
	return m.engine.Restart(ctx, executionId)
}

func (m *Migration) Stop(ctx context.Context) error {
	return m.engine.Stop(ctx, m.name)
}

// Status returns the latest execution with its steps, nil when the job never ran.
func (m *Migration) Status(ctx context.Context) (*relmigrate.JobExecution, error) {
	return m.engine.LastExecution(ctx, m.name)
}

// Schema creates the target collections, validators and indexes.
func (m *Migration) Schema(ctx context.Context) error {
	return docstore.EnsureSchema(ctx, m.target)
}

// Clean drops the target collections and empties the translation store.
func (m *Migration) Clean(ctx context.Context) error {
	if err := docstore.DropAll(ctx, m.target); err != nil {
		return err
	}
	if m.resetter != nil {
		if err := m.resetter.Reset(ctx); err != nil {
			return errors.Wrap(err, "reset translation store")
		}
	}
	m.ids.Purge()
	return nil
}
