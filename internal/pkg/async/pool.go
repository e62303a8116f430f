// internal/pkg/async/pool.go
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task[T any] struct {
	Name    string
	Execute func(ctx context.Context) (T, error)
}

type Result[T any] struct {
	Name string
	Data T
	Err  error
}

// Pool runs batches of tasks on a fixed number of workers. A Pool may run any
// number of batches, one Execute call at a time or concurrently.
type Pool[T any] struct {
	workerCount int
}

func NewPool[T any](workerCount int) *Pool[T] {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool[T]{workerCount: workerCount}
}

func (p *Pool[T]) worker(ctx context.Context, tasks <-chan Task[T], results chan<- Result[T], wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			results <- run(ctx, task)
		case <-ctx.Done():
			return
		}
	}
}

func run[T any](ctx context.Context, task Task[T]) (res Result[T]) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Data, res.Err = task.Execute(ctx)
	return res
}

// Execute runs tasks and returns their results keyed by name. When ctx is cancelled
// the tasks that did not finish are reported with ctx.Err().
func (p *Pool[T]) Execute(ctx context.Context, tasks []Task[T]) map[string]Result[T] {
	var wg sync.WaitGroup
	results := make(map[string]Result[T], len(tasks))
	taskCh := make(chan Task[T])
	resultCh := make(chan Result[T], len(tasks))

	// Start workers
	workers := min(p.workerCount, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, taskCh, resultCh, &wg)
	}

	// Send tasks
	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Collect results
	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-resultCh:
			results[result.Name] = result
		case <-ctx.Done():
			wg.Wait()
			drain(resultCh, results)
			fillCancelled(ctx, tasks, results)
			return results
		}
	}

	wg.Wait()
	return results
}

func drain[T any](ch chan Result[T], results map[string]Result[T]) {
	for {
		select {
		case r := <-ch:
			results[r.Name] = r
		default:
			return
		}
	}
}

func fillCancelled[T any](ctx context.Context, tasks []Task[T], results map[string]Result[T]) {
	for _, task := range tasks {
		if _, ok := results[task.Name]; !ok {
			results[task.Name] = Result[T]{Name: task.Name, Err: ctx.Err()}
		}
	}
}
