package chunksum

import (
	"context"
	"sync"
)

//Task identifies one file waiting to be summed. Seq is its position in
//the canonical (lexicographic) order of the run and decides when its
//result is emitted
type Task struct {
	Seq  int
	Path string //filesystem path to open
	Rel  string //path recorded in the manifest
}

//Result carries one finished file back from a worker. Err is set when
//that single file failed to be read or digested, other files are not
//affected
type Result struct {
	Seq   int
	Rel   string
	Entry *Entry
	Err   error
}

//Run fans the tasks out over 'workers' goroutines and sends results on
//the returned channel in task order, no matter in which order workers
//finish. Scanning with one worker or with many therefore produces
//identical output. Workers share nothing: each owns the task it is
//processing and communicates only by sending its completed result.
//Hand-out is windowed: at most twice the worker count of tasks is ever
//issued ahead of the last emitted result, so a slow early file stalls
//the workers instead of the reorder buffer growing with the tree size.
//Cancelling ctx stops the hand-out of new tasks and closes the channel
//after the in-flight ones are dropped
func Run(ctx context.Context, tasks []Task, workers int, fn func(Task) (*Entry, error)) <-chan Result {
	if workers < 1 {
		workers = 1
	}

	taskCh := make(chan Task)
	resCh := make(chan Result, workers)
	out := make(chan Result)

	//each issued task holds a window slot until its result is emitted
	window := make(chan struct{}, 2*workers)

	go func() {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}

			select {
			case taskCh <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				entry, err := fn(t)
				select {
				case resCh <- Result{Seq: t.Seq, Rel: t.Rel, Entry: entry, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resCh)
	}()

	go func() {
		defer close(out)

		next := 0
		pending := map[int]Result{}
		for r := range resCh {
			pending[r.Seq] = r
			for {
				n, ok := pending[next]
				if !ok {
					break
				}

				delete(pending, next)
				next++

				select {
				case out <- n:
					<-window
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
