// Package prefetch syncs many parties to the head of their logs with a
// bounded pool of workers.
package prefetch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/store"
)

// maxPages stops a single task from paging forever against a log that
// grows faster than it can be read.
const maxPages = 10000

// Fetcher is the part of the fetch coordinator a task uses.
type Fetcher interface {
	FetchEvents(ctx context.Context, partyID string, cursor *uint64, bypassThrottle bool) ([]party.Event, error)
}

type Manager struct {
	fetcher Fetcher
	store   *store.Store
	workers int
	logger  *zap.Logger
}

type BatchResult struct {
	Total       int
	Synced      int
	Empty       int
	RateLimited int
	Failed      int
	Events      int
	Errors      []string
}

func NewManager(fetcher Fetcher, st *store.Store, workers int, logger *zap.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		fetcher: fetcher,
		store:   st,
		workers: workers,
		logger:  logger,
	}
}

// Execute syncs every party and tallies the outcome.
func (m *Manager) Execute(ctx context.Context, partyIDs []string) (*BatchResult, error) {
	tasks := make([]Task, 0, len(partyIDs))
	for _, id := range partyIDs {
		tasks = append(tasks, Task{PartyID: id})
	}
	result := &BatchResult{Total: len(tasks)}

	if len(tasks) == 0 {
		return result, nil
	}

	jobs := make(chan Task, len(tasks))
	results := make(chan TaskResult, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			m.worker(ctx, workerID, jobs, results)
		}(i)
	}

	// Send jobs
	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case jobs <- task:
			}
		}
	}()

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for r := range results {
		result.Events += r.Events
		switch {
		case r.Error != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Task, r.Error))
		case r.RateLimited:
			result.RateLimited++
		case r.Empty:
			result.Empty++
		case r.Success:
			result.Synced++
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) worker(ctx context.Context, id int, jobs <-chan Task, results chan<- TaskResult) {
	for task := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := m.processTask(ctx, task)

		select {
		case <-ctx.Done():
			return
		case results <- result:
		}
	}
}

// processTask pages forward until a fetch brings nothing new or the store
// reports no further page.
func (m *Manager) processTask(ctx context.Context, task Task) TaskResult {
	result := TaskResult{Task: task}
	partyID := task.PartyID

	m.logger.Info("syncing", zap.String("task", task.String()))

	start := m.store.Len(partyID)
	cursor := m.store.RefreshCursor(partyID)
	for result.Pages < maxPages {
		before := m.store.Len(partyID)
		if _, err := m.fetcher.FetchEvents(ctx, partyID, cursor, true); err != nil {
			result.Error = err
			return result
		}
		result.Pages++

		if m.store.Len(partyID) == before || !m.store.HasNextPage(partyID) {
			break
		}
		cursor = m.store.NextCursor(partyID)
	}

	result.Events = m.store.Len(partyID)
	result.New = result.Events - start
	result.RateLimited = m.store.FetchState(partyID).RateLimited
	result.Empty = result.Events == 0 && !result.RateLimited
	result.Success = true

	m.logger.Info("synced",
		zap.String("task", task.String()),
		zap.Int("events", result.Events),
		zap.Int("new", result.New),
		zap.Int("pages", result.Pages),
		zap.Bool("rate_limited", result.RateLimited))

	return result
}
