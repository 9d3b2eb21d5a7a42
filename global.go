package relmigrate

import (
	"os"
)

var DefaultLogger Logger

// SetLogger set a logger instance for relmigrate
func SetLogger(logger Logger) {
	DefaultLogger = logger
}

func init() {
	DefaultLogger = NewLogger(os.Stdout, Info)
}

// task pool
const (
	DefaultJobPoolSize      = 10
	DefaultStepTaskPoolSize = 1000
	DefaultChunkPoolSize    = 64
)

var jobPool = newTaskPool(DefaultJobPoolSize, 0)
var stepPool = newTaskPool(DefaultStepTaskPoolSize, 0)
var chunkPool = newTaskPool(DefaultChunkPoolSize, 0)

// SetMaxRunningSteps set max number of partition steps running at once
func SetMaxRunningSteps(size int) {
	stepPool.SetMaxSize(size)
}

// ConfigureChunkPool sizes the pool shared by all chunk workers. queueCapacity bounds the
// number of submissions waiting for a free worker, further chunks are held back until
// one finishes; 0 leaves the queue unbounded. Call it before any job is started.
func ConfigureChunkPool(maxWorkers int, queueCapacity int) {
	if maxWorkers <= 0 {
		maxWorkers = DefaultChunkPoolSize
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}
	chunkPool.replace(maxWorkers, queueCapacity)
}

// RunningChunkWorkers returns the number of live chunk pool workers.
func RunningChunkWorkers() int {
	return chunkPool.Running()
}
