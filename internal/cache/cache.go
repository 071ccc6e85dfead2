package cache

import (
	"context"
	"sync"
	"time"

	"salesboard/internal/domain"
)

// BoardKey holds the cached full-list pipeline fetch; BoardGenerationKey
// counts invalidations.
const (
	BoardKey           = "salesboard:pipeline:board"
	BoardGenerationKey = "salesboard:pipeline:generation"
)

// BoardCache stores the full-list fetch tagged with the generation read
// before the fetch started. Invalidate bumps the generation, so a fetch that
// raced a write is never served: its entry carries an old generation.
type BoardCache interface {
	Get(ctx context.Context) (*domain.PipelineBoard, bool, error)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, board *domain.PipelineBoard, generation int64, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopBoardCache struct{}

func (NoopBoardCache) Get(_ context.Context) (*domain.PipelineBoard, bool, error) {
	return nil, false, nil
}

func (NoopBoardCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopBoardCache) Set(_ context.Context, _ *domain.PipelineBoard, _ int64, _ time.Duration) error {
	return nil
}

func (NoopBoardCache) Invalidate(_ context.Context) error {
	return nil
}

// MemoryBoardCache serves a single process when Redis is not configured.
type MemoryBoardCache struct {
	mu         sync.Mutex
	board      *domain.PipelineBoard
	tagged     int64
	generation int64
	expires    time.Time
	now        func() time.Time
}

func NewMemoryBoardCache() *MemoryBoardCache {
	return &MemoryBoardCache{now: time.Now}
}

func (c *MemoryBoardCache) Get(_ context.Context) (*domain.PipelineBoard, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board == nil || c.tagged != c.generation || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	board := *c.board
	return &board, true, nil
}

func (c *MemoryBoardCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryBoardCache) Set(_ context.Context, board *domain.PipelineBoard, generation int64, ttl time.Duration) error {
	if board == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}
	stored := *board
	c.board = &stored
	c.tagged = generation
	c.expires = c.now().Add(ttl)
	return nil
}

func (c *MemoryBoardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.board = nil
	return nil
}
