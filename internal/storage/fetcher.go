package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher coordinates parallel reads from object storage while keeping
// results in request order.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// FetchResult holds the outcome of reading one object.
type FetchResult struct {
	ObjectPath string
	Data       []byte
	Err        error
}

// NewBatchFetcher creates a new batch fetcher.
// storage: the ObjectStorage implementation to read from
// concurrency: maximum number of parallel reads (values < 1 mean 1)
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchFetcher{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Fetch reads all objects with bounded concurrency. results[i] always
// corresponds to objectPaths[i]; per-object failures are reported in
// FetchResult.Err. The returned error is non-nil only when ctx ends before
// every read was started.
func (b *BatchFetcher) Fetch(ctx context.Context, objectPaths []string) ([]FetchResult, error) {
	results := make([]FetchResult, len(objectPaths))
	if len(objectPaths) == 0 {
		return results, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var acquireErr error

	for i, p := range objectPaths {
		results[i].ObjectPath = p
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = fmt.Errorf("semaphore acquire failed: %w", err)
			for j := i; j < len(objectPaths); j++ {
				results[j] = FetchResult{ObjectPath: objectPaths[j], Err: err}
			}
			break
		}

		wg.Add(1)
		go func(idx int, path string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, path)
			results[idx].Data = data
			results[idx].Err = err
		}(i, p)
	}

	wg.Wait()
	return results, acquireErr
}
