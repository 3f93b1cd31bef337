package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
)

type countingFetcher struct {
	calls atomic.Int32
	resp  *backend.TasksResponse
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) FetchTasks(context.Context) (*backend.TasksResponse, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.resp, f.err
}

func tasksResponse() *backend.TasksResponse {
	return &backend.TasksResponse{
		Metadata:        map[string]json.RawMessage{"Named Entity": json.RawMessage(testTaskJSON)},
		WorkspaceAccess: true,
	}
}

func TestTaskCacheFetchesOnce(t *testing.T) {
	f := &countingFetcher{resp: tasksResponse(), gate: make(chan struct{})}
	cache := NewTaskCache(f)

	var wg sync.WaitGroup
	results := make([]*Task, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := cache.Task(context.Background(), "Named Entity")
			assert.NoError(t, err)
			results[i] = task
		}(i)
	}
	close(f.gate)
	wg.Wait()

	first := results[0]
	require.NotNil(t, first)
	for _, task := range results[1:] {
		assert.Same(t, first, task, "every caller shares one built task")
	}
	assert.Equal(t, int32(1), f.calls.Load())

	_, err := cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	calls := f.calls.Load()
	_, err = cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Equal(t, calls, f.calls.Load(), "loaded cache does not refetch")
	assert.True(t, cache.WorkspaceAccess())

	names, err := cache.Names(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Named Entity"}, names)
}

func TestTaskCacheUnknownTask(t *testing.T) {
	cache := NewTaskCache(&countingFetcher{resp: tasksResponse()})
	_, err := cache.Task(t.Context(), "Nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskCacheErrorsAreNotCached(t *testing.T) {
	f := &countingFetcher{err: &backend.TransportFailure{Operation: "fetch_tasks", Err: errors.New("down")}}
	cache := NewTaskCache(f)

	_, err := cache.Task(t.Context(), "Named Entity")
	assert.ErrorIs(t, err, backend.ErrTransport)

	f.err = nil
	f.resp = tasksResponse()
	_, err = cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTaskCacheInvalidTaskLeavesCacheEmpty(t *testing.T) {
	resp := tasksResponse()
	resp.Metadata["Broken"] = json.RawMessage(`{"workflows": {}}`)
	cache := NewTaskCache(&countingFetcher{resp: resp})

	_, err := cache.Task(t.Context(), "Named Entity")
	assert.ErrorIs(t, err, ErrInvalidTask)

	resp.Metadata["Garbage"] = json.RawMessage(`[1,2]`)
	delete(resp.Metadata, "Broken")
	_, err = cache.Task(t.Context(), "Named Entity")
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestTaskCacheInvalidate(t *testing.T) {
	f := &countingFetcher{resp: tasksResponse()}
	cache := NewTaskCache(f)

	_, err := cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTaskCacheAddTask(t *testing.T) {
	cache := NewTaskCache(nil)
	task := testTask(t)
	cache.AddTask(task)

	got, err := cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Same(t, task, got)

	f := &countingFetcher{resp: &backend.TasksResponse{Metadata: map[string]json.RawMessage{}}}
	fetched := NewTaskCache(f)
	fetched.AddTask(task)
	got, err = fetched.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Same(t, task, got, "local tasks survive a fetch that does not name them")
}

func TestTaskCacheInvalidateKeepsLocalTasks(t *testing.T) {
	f := &countingFetcher{resp: &backend.TasksResponse{Metadata: map[string]json.RawMessage{}}}
	cache := NewTaskCache(f)
	task := testTask(t)
	cache.AddTask(task)

	_, err := cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	cache.Invalidate()

	got, err := cache.Task(t.Context(), "Named Entity")
	require.NoError(t, err)
	assert.Same(t, task, got)
	assert.Equal(t, int32(2), f.calls.Load())

	names, err := cache.Names(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Named Entity"}, names)
}
