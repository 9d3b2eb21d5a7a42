package relmigrate

import (
	"fmt"
)

type JobBuilderFactory interface {
	Get(name string) JobBuilder
}

func NewJobBuilderFactory(repository Repository) JobBuilderFactory {
	return &jobBuilderFactory{
		repository: repository,
	}
}

type jobBuilderFactory struct {
	repository Repository
}

func (j *jobBuilderFactory) Get(name string) JobBuilder {
	if name == "" {
		panic("job name must not be empty")
	}
	return &jobBuilder{
		name:       name,
		repository: j.repository,
	}
}

type JobBuilder interface {
	Start(step Step) SimpleJobBuilder
	Split(steps ...Step) SimpleJobBuilder
}

type jobBuilder struct {
	name       string
	repository Repository
}

func (builder *jobBuilder) Start(step Step) SimpleJobBuilder {
	return newSimpleJobBuilder(builder.name, builder.repository, []Step{step})
}

// Split starts the job with a stage of steps that run in parallel.
func (builder *jobBuilder) Split(steps ...Step) SimpleJobBuilder {
	return newSimpleJobBuilder(builder.name, builder.repository, steps)
}

type SimpleJobBuilder interface {
	Next(step Step) SimpleJobBuilder
	Split(steps ...Step) SimpleJobBuilder
	Repository(repository Repository) SimpleJobBuilder
	Listener(listener ...interface{}) SimpleJobBuilder
	Build() Job
}

type simpleJobBuilder struct {
	name           string
	stages         [][]Step
	jobListeners   []JobListener
	stepListeners  []StepListener
	chunkListeners []ChunkListener
	repository     Repository
}

func newSimpleJobBuilder(name string, repository Repository, first []Step) SimpleJobBuilder {
	builder := &simpleJobBuilder{
		name:       name,
		repository: repository,
	}
	return builder.Split(first...)
}

func (builder *simpleJobBuilder) Next(step Step) SimpleJobBuilder {
	return builder.Split(step)
}

func (builder *simpleJobBuilder) Split(steps ...Step) SimpleJobBuilder {
	if len(steps) == 0 {
		panic(fmt.Sprintf("empty stage for job:%v", builder.name))
	}
	builder.stages = append(builder.stages, steps)
	return builder
}

func (builder *simpleJobBuilder) Repository(repository Repository) SimpleJobBuilder {
	builder.repository = repository
	return builder
}

// Listener registers job, step and chunk listeners. A value implementing several
// listener interfaces is registered for each of them.
func (builder *simpleJobBuilder) Listener(listener ...interface{}) SimpleJobBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(JobListener); ok {
			builder.jobListeners = append(builder.jobListeners, ll)
			valid = true
		}
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%+v for job:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *simpleJobBuilder) Build() Job {
	if builder.repository == nil {
		panic(fmt.Sprintf("no repository specified for job:%v", builder.name))
	}
	names := make(map[string]bool)
	for _, stage := range builder.stages {
		for _, step := range stage {
			if names[step.Name()] {
				panic(fmt.Sprintf("duplicate step name:%v in job:%v", step.Name(), builder.name))
			}
			names[step.Name()] = true
			for _, sl := range builder.stepListeners {
				step.addListener(sl)
			}
			if chk, ok := step.(chunkListenerHolder); ok {
				for _, cl := range builder.chunkListeners {
					chk.addChunkListener(cl)
				}
			}
		}
	}
	return newSimpleJob(builder.name, builder.stages, builder.jobListeners, builder.repository)
}

type chunkListenerHolder interface {
	addChunkListener(listener ChunkListener)
}
