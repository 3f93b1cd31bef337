package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/logger"
)

// TaskFetcher loads task metadata, normally a *backend.Client.
type TaskFetcher interface {
	FetchTasks(ctx context.Context) (*backend.TasksResponse, error)
}

// TaskCache fetches task metadata once and builds Tasks from it. Concurrent
// first lookups share a single fetch_tasks request.
type TaskCache struct {
	fetcher TaskFetcher
	opts    []TaskOption
	group   singleflight.Group

	mu              sync.RWMutex
	loaded          bool
	fetched         map[string]*Task
	local           map[string]*Task
	workspaceAccess bool
}

// NewTaskCache creates a cache over fetcher. opts apply to every built Task.
func NewTaskCache(fetcher TaskFetcher, opts ...TaskOption) *TaskCache {
	return &TaskCache{fetcher: fetcher, opts: opts}
}

// Task returns the named task, fetching metadata on first use.
func (c *TaskCache) Task(ctx context.Context, name string) (*Task, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.fetched[name]
	if !ok {
		t, ok = c.local[name]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns the known task names, sorted.
func (c *TaskCache) Names(ctx context.Context) ([]string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.fetched)+len(c.local))
	for name := range c.fetched {
		names = append(names, name)
	}
	for name := range c.local {
		if _, dup := c.fetched[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// WorkspaceAccess reports the flag from the last fetch.
func (c *TaskCache) WorkspaceAccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workspaceAccess
}

// Invalidate drops fetched tasks so the next lookup fetches again. Tasks
// added with AddTask are kept.
func (c *TaskCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.fetched = nil
}

func (c *TaskCache) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded || c.fetcher == nil {
		return nil
	}
	_, err, _ := c.group.Do(backend.OperationFetchTasks, func() (any, error) {
		c.mu.RLock()
		loaded := c.loaded
		c.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		return nil, c.load(ctx)
	})
	return err
}

// load builds every task before installing any, so a bad task leaves the
// cache empty.
func (c *TaskCache) load(ctx context.Context) error {
	resp, err := c.fetcher.FetchTasks(ctx)
	if err != nil {
		return err
	}
	tasks := make(map[string]*Task, len(resp.Metadata))
	for name, raw := range resp.Metadata {
		spec, err := DecodeTaskSpec(raw)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidTask, name, err)
		}
		t, err := NewTask(name, spec, c.opts...)
		if err != nil {
			return err
		}
		tasks[name] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = tasks
	c.loaded = true
	c.workspaceAccess = resp.WorkspaceAccess
	logger.InfoContext(ctx, "tasks loaded", "count", len(tasks))
	return nil
}

// AddTask installs a task built elsewhere, such as from a local task
// definition. Fetched tasks of the same name take precedence.
func (c *TaskCache) AddTask(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		c.local = map[string]*Task{}
	}
	c.local[t.Name()] = t
}
