package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records the last form it received and replies with body.
type fakeBackend struct {
	status int
	body   string
	form   url.Values
}

func (f *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, formContentType, r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		f.form = r.PostForm
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSteps(t *testing.T) {
	fb := &fakeBackend{body: `{"successes":[{"steps":["zone","tokenize"],"val":{"signal":"x"}}]}`}
	srv := fb.server(t)

	c := NewClient(srv.URL+"/", WithConfig(map[string]string{"lang": "en", "task": "ignored"}))
	assert.Equal(t, srv.URL, c.Endpoint())

	resp, err := c.Steps(t.Context(), StepsRequest{
		Task:     "Named Entity",
		Workflow: "Demo",
		Steps:    []string{"zone", "tokenize"},
		Input:    json.RawMessage(`{"signal":"x"}`),
		Config:   map[string]string{"tagger": "crf"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Successes, 1)
	assert.Equal(t, []string{"zone", "tokenize"}, resp.CompletedSteps())
	assert.JSONEq(t, `{"signal":"x"}`, string(resp.Successes[0].Val))
	assert.NoError(t, resp.Failure())

	assert.Equal(t, "steps", fb.form.Get("operation"))
	assert.Equal(t, "zone,tokenize", fb.form.Get("steps"))
	assert.Equal(t, "Named Entity", fb.form.Get("task"))
	assert.Equal(t, "Demo", fb.form.Get("workflow"))
	assert.Equal(t, "en", fb.form.Get("lang"))
	assert.Equal(t, "crf", fb.form.Get("tagger"))
	assert.Equal(t, `{"signal":"x"}`, fb.form.Get("input"))
}

func TestStepsPartialFailure(t *testing.T) {
	fb := &fakeBackend{body: `{"successes":[{"steps":["zone"],"val":{}}],"error":"tagger crashed","errorStep":"tag"}`}
	srv := fb.server(t)

	resp, err := NewClient(srv.URL).Steps(t.Context(), StepsRequest{Steps: []string{"zone", "tag"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"zone"}, resp.CompletedSteps())

	failure := resp.Failure()
	require.Error(t, failure)
	assert.ErrorIs(t, failure, ErrApplication)
	var app *ApplicationFailure
	require.ErrorAs(t, failure, &app)
	assert.Equal(t, "tag", app.Step)
	assert.Contains(t, app.Error(), "tagger crashed")
}

func TestUndoThrough(t *testing.T) {
	fb := &fakeBackend{body: `{"doc":{"signal":"x"},"stepsUndone":["tag","zone"]}`}
	srv := fb.server(t)

	resp, err := NewClient(srv.URL).UndoThrough(t.Context(), UndoRequest{
		Task:        "Named Entity",
		UndoThrough: "zone",
		Input:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tag", "zone"}, resp.StepsUndone)
	assert.JSONEq(t, `{"signal":"x"}`, string(resp.Doc))
	assert.Equal(t, "undo_through", fb.form.Get("operation"))
	assert.Equal(t, "zone", fb.form.Get("undo_through"))
}

func TestUndoThroughApplicationError(t *testing.T) {
	fb := &fakeBackend{body: `{"error":"cannot undo","errorStep":"zone"}`}
	srv := fb.server(t)

	_, err := NewClient(srv.URL).UndoThrough(t.Context(), UndoRequest{UndoThrough: "zone"})
	require.Error(t, err)
	var app *ApplicationFailure
	require.ErrorAs(t, err, &app)
	assert.Equal(t, OperationUndoThrough, app.Operation)
	assert.Equal(t, "zone", app.Step)
}

func TestFetchTasks(t *testing.T) {
	fb := &fakeBackend{body: `{"metadata":{"Named Entity":{"workflows":{}}},"workspace_access":true}`}
	srv := fb.server(t)

	resp, err := NewClient(srv.URL).FetchTasks(t.Context())
	require.NoError(t, err)
	assert.True(t, resp.WorkspaceAccess)
	assert.Contains(t, resp.Metadata, "Named Entity")
	assert.Equal(t, "fetch_tasks", fb.form.Get("operation"))
}

func TestFetchTasksEmptyMetadata(t *testing.T) {
	fb := &fakeBackend{body: `{}`}
	srv := fb.server(t)

	resp, err := NewClient(srv.URL).FetchTasks(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, resp.Metadata)
	assert.Empty(t, resp.Metadata)
}

func TestFailureTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", want: ErrTransport},
		{name: "not found", status: http.StatusNotFound, body: "", want: ErrTransport},
		{name: "malformed json", body: "{not json", want: ErrDecode},
		{name: "wrong shape", body: `{"successes":"nope"}`, want: ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{status: tt.status, body: tt.body}
			srv := fb.server(t)

			_, err := NewClient(srv.URL).Steps(t.Context(), StepsRequest{Steps: []string{"zone"}})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransportFailureUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(endpoint).FetchTasks(t.Context())
	require.Error(t, err)
	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, 0, tf.StatusCode)
	assert.Error(t, errors.Unwrap(err))
}

func TestTransportFailureStatusCode(t *testing.T) {
	fb := &fakeBackend{status: http.StatusBadGateway, body: "bad gateway"}
	srv := fb.server(t)

	_, err := NewClient(srv.URL, WithHTTPClient(srv.Client())).FetchTasks(t.Context())
	var tf *TransportFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, http.StatusBadGateway, tf.StatusCode)
	assert.Contains(t, tf.Error(), "502")
}
