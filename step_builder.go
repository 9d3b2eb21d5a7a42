package relmigrate

import (
	"context"
	"fmt"
)

const (
	// DefaultChunkSize default number of record per chunk to read
	DefaultChunkSize = 100
	// DefaultPartitions default number of partitions to construct a step
	DefaultPartitions = 1
	// DefaultConcurrency default number of chunks of one step processed at once
	DefaultConcurrency = 1
)

type StepBuilderFactory interface {
	Get(name string) StepBuilder
}

func NewStepBuilderFactory(repository Repository, txnMgr TransactionManager) StepBuilderFactory {
	return &stepBuilderFactory{
		repository: repository,
		txnMgr:     txnMgr,
	}
}

type stepBuilderFactory struct {
	repository Repository
	txnMgr     TransactionManager
}

func (j *stepBuilderFactory) Get(name string) StepBuilder {
	if name == "" {
		panic("step name must not be empty")
	}
	return &stepBuilder{
		name:           name,
		repository:     j.repository,
		txnMgr:         j.txnMgr,
		processor:      &nilProcessor{},
		writer:         &nilWriter{},
		chunkSize:      DefaultChunkSize,
		concurrency:    DefaultConcurrency,
		partitions:     DefaultPartitions,
		stepListeners:  make([]StepListener, 0),
		chunkListeners: make([]ChunkListener, 0),
	}
}

type StepBuilder interface {
	Task(task Task) StepBuilder
	Reader(reader Reader) StepBuilder
	Processor(processor Processor) StepBuilder
	Writer(writer Writer) StepBuilder
	ChunkSize(chunkSize uint) StepBuilder
	Concurrency(concurrency uint) StepBuilder
	Strict(strict bool) StepBuilder
	Partitions(partitions uint) StepBuilder
	Listener(listener ...interface{}) StepBuilder
	Build() Step
}

type stepBuilder struct {
	name           string
	task           Task
	reader         Reader
	processor      Processor
	writer         Writer
	chunkSize      uint
	concurrency    uint
	strict         bool
	partitions     uint
	stepListeners  []StepListener
	chunkListeners []ChunkListener

	txnMgr     TransactionManager
	repository Repository
}

func (builder *stepBuilder) Task(task Task) StepBuilder {
	builder.task = task
	return builder
}

func (builder *stepBuilder) Reader(reader Reader) StepBuilder {
	builder.reader = reader
	return builder
}

func (builder *stepBuilder) Processor(processor Processor) StepBuilder {
	builder.processor = processor
	return builder
}

func (builder *stepBuilder) Writer(writer Writer) StepBuilder {
	builder.writer = writer
	return builder
}

func (builder *stepBuilder) ChunkSize(chunkSize uint) StepBuilder {
	builder.chunkSize = chunkSize
	return builder
}

func (builder *stepBuilder) Concurrency(concurrency uint) StepBuilder {
	builder.concurrency = concurrency
	return builder
}

// Strict makes a dangling foreign key fail the step instead of filtering the item.
func (builder *stepBuilder) Strict(strict bool) StepBuilder {
	builder.strict = strict
	return builder
}

func (builder *stepBuilder) Partitions(partitions uint) StepBuilder {
	builder.partitions = partitions
	return builder
}

func (builder *stepBuilder) Listener(listener ...interface{}) StepBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%+v for step:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *stepBuilder) Build() Step {
	var step Step
	var baseStep = baseStep{
		name:       builder.name,
		repository: builder.repository,
		txMgr:      builder.txnMgr,
	}
	if builder.task != nil {
		step = newSimpleStep(baseStep, builder.task, builder.stepListeners)
	} else if builder.reader != nil {
		if builder.txnMgr == nil {
			panic(fmt.Sprintf("you must specify a transaction manager before constructing chunk step:%v", builder.name))
		}
		if builder.partitions > 1 {
			template := newChunkStep(baseStep, builder.reader, builder.processor, builder.writer, builder.chunkSize, builder.concurrency, builder.strict, nil, builder.chunkListeners)
			step = newPartitionStep(baseStep, template, builder.partitions, builder.stepListeners)
		} else {
			step = newChunkStep(baseStep, builder.reader, builder.processor, builder.writer, builder.chunkSize, builder.concurrency, builder.strict, builder.stepListeners, builder.chunkListeners)
		}
	}
	if step == nil {
		panic(fmt.Sprintf("no task or reader specified for step: %s\n", builder.name))
	}

	return step
}

type nilProcessor struct {
}

func (p *nilProcessor) Process(ctx context.Context, item interface{}) (interface{}, BatchError) {
	return item, nil
}

type nilWriter struct {
}

func (w *nilWriter) Write(ctx context.Context, items []interface{}) BatchError {
	return nil
}
