package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// DefaultMaxParallel bounds RunBatch when no limit is given.
const DefaultMaxParallel = 4

// BatchJob is one independent execution of a batch.
type BatchJob struct {
	Fetches []*graph.Node
	Feeds   *FeedDict
	Options ExecuteOptions
}

// BatchResult is the outcome of one job. Results keep the job order.
type BatchResult struct {
	Index       int
	ExecutionID string
	Values      []tensor.Value
	Err         error
	Duration    time.Duration
}

// RunBatch executes independent jobs on up to maxParallel workers. Jobs
// share the executor's plan cache, so identical signatures are planned
// once. A failing job does not stop the others. Jobs not yet started when
// ctx is cancelled fail with the context error.
func (e *Executor) RunBatch(ctx context.Context, jobs []BatchJob, maxParallel int) []BatchResult {
	results := make([]BatchResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workerCount := maxParallel
	if workerCount <= 0 {
		workerCount = DefaultMaxParallel
	}
	if len(jobs) < workerCount {
		workerCount = len(jobs)
	}

	workQueue := make(chan int, len(jobs))
	for i := range jobs {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				job := jobs[i]
				if job.Options.ExecutionID == "" {
					job.Options.ExecutionID = uuid.NewString()
				}
				results[i] = BatchResult{Index: i, ExecutionID: job.Options.ExecutionID}

				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}

				start := time.Now()
				values, err := e.Execute(ctx, job.Fetches, job.Feeds, job.Options)
				results[i].Values = values
				results[i].Err = err
				results[i].Duration = time.Since(start)
			}
		}()
	}

	wg.Wait()
	return results
}
