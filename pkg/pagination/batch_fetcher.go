package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int

	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults for the upstream API.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single page of a paginated route and reports the
// total page count. *client.Engine implements this.
type PageFetcher interface {
	FetchPage(ctx context.Context, route string, pageNum int) (data []byte, totalPages int, err error)
}

// PageResult is the outcome of fetching one page.
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// BatchFetcher fetches all pages of a route through a worker pool.
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a batch fetcher.
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches every page of a route, page 1 first to learn the
// total count, the rest in parallel. Returns pageNumber -> data for the
// pages that succeeded; a worker error is returned alongside the partial
// result.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, route string) (map[int][]byte, error) {
	start := time.Now()

	firstPageData, totalPages, err := bf.fetcher.FetchPage(ctx, route, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	if totalPages < 1 {
		totalPages = 1
	}

	log.Debug().
		Str("route", route).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	results := map[int][]byte{1: firstPageData}
	if totalPages == 1 {
		return results, nil
	}

	pageQueue := make(chan int, totalPages)
	pageResults := make(chan PageResult, totalPages)

	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	workers := bf.config.MaxConcurrency
	if workers > totalPages-1 {
		workers = totalPages - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bf.worker(ctx, route, pageQueue, pageResults)
		}()
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	for result := range pageResults {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = result.Error
			}
			log.Warn().
				Err(result.Error).
				Int("page", result.PageNumber).
				Str("route", route).
				Msg("Page fetch failed")
			continue
		}
		results[result.PageNumber] = result.Data
	}

	log.Info().
		Str("route", route).
		Int("pages", len(results)).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Page fetch complete")

	if firstErr != nil {
		return results, fmt.Errorf("partial result (%d/%d pages): %w", len(results), totalPages, firstErr)
	}
	return results, nil
}

// worker drains the page queue until it is empty or ctx is done.
func (bf *BatchFetcher) worker(ctx context.Context, route string, pageQueue <-chan int, results chan<- PageResult) {
	for pageNum := range pageQueue {
		select {
		case <-ctx.Done():
			results <- PageResult{PageNumber: pageNum, Error: ctx.Err()}
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		data, _, err := bf.fetcher.FetchPage(pageCtx, route, pageNum)
		cancel()

		results <- PageResult{PageNumber: pageNum, Data: data, Error: err}
	}
}
