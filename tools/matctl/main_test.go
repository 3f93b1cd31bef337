package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/testutil"
)

const taskDefinition = `apiVersion: mat.mitre.org/v1alpha1
kind: TaskDefinition
metadata:
  name: Named Entity
spec:
  version: 1.0.0
  annotationSetRepository:
    types:
      ENAMEX:
        attrs:
          - name: type
            choices: [PERSON, ORGANIZATION, LOCATION]
      SEGMENT:
        attrs:
          - name: status
            choices: [non-gold, human gold, reconciled]
      zone:
        category: zone
  workflows:
    Demo:
      steps:
        - name: zone
        - name: tag
          tag_step: true
          hand_annotation_available: true
        - name: report
  stepSuccessors:
    zone: [tag]
    tag: [report]
`

const testDocument = `{"signal":"John lives in Reno.","asets":[
  {"type":"SEGMENT","hasSpan":true,"attrs":["status"],"annots":[[0,19,"non-gold"]]}
]}`

// stepBackend echoes the input document for every requested step, fails
// the report step, and records the step operations it served.
type stepBackend struct {
	mu    sync.Mutex
	calls []string
}

func (b *stepBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		op := r.PostForm.Get("operation")
		input := json.RawMessage(r.PostForm.Get("input"))

		var resp any
		switch op {
		case "fetch_tasks":
			resp = map[string]any{"metadata": map[string]any{}, "workspace_access": false}
		case "steps":
			successes := []map[string]any{}
			failed := ""
			for _, step := range strings.Split(r.PostForm.Get("steps"), ",") {
				if step == "report" {
					failed = step
					break
				}
				successes = append(successes, map[string]any{"steps": []string{step}, "val": input})
			}
			resp = map[string]any{"successes": successes}
			if failed != "" {
				resp = map[string]any{"successes": successes, "error": "no reporter configured", "errorStep": failed}
			}
		case "undo_through":
			resp = map[string]any{"doc": input, "stepsUndone": []string{r.PostForm.Get("undo_through")}}
		default:
			http.Error(w, "unknown operation", http.StatusBadRequest)
			return
		}
		if op != "fetch_tasks" {
			b.mu.Lock()
			b.calls = append(b.calls, op+":"+r.PostForm.Get("steps")+r.PostForm.Get("undo_through"))
			b.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *stepBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type fixture struct {
	dir     string
	config  string
	docPath string
	backend *stepBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	be := &stepBackend{}
	srv := be.server(t)

	testutil.WriteFile(t, dir, "task.yaml", taskDefinition)
	engineConfig := `apiVersion: mat.mitre.org/v1alpha1
kind: EngineConfig
metadata:
  name: test
spec:
  backend:
    url: ` + srv.URL + `
    timeout: 5s
  defaultTask: Named Entity
  defaultWorkflow: Demo
  taskFiles: [task.yaml]
  stateStore:
    type: sqlite
    sqlite:
      path: store/docs.db
  logging:
    defaultLevel: error
`
	return &fixture{
		dir:     dir,
		config:  testutil.WriteFile(t, dir, "matctl.yaml", engineConfig),
		docPath: testutil.WriteFile(t, dir, "doc.json", testDocument),
		backend: be,
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func phasesDone(t *testing.T, data []byte) []string {
	t.Helper()
	var doc struct {
		Metadata struct {
			PhasesDone []string `json:"phasesDone"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Metadata.PhasesDone
}

func segmentStatus(t *testing.T, data []byte) any {
	t.Helper()
	var doc struct {
		ASets []struct {
			Type   string  `json:"type"`
			Annots [][]any `json:"annots"`
		} `json:"asets"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, aset := range doc.ASets {
		if aset.Type == "SEGMENT" && len(aset.Annots) > 0 {
			row := aset.Annots[0]
			return row[len(row)-1]
		}
	}
	return nil
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "matctl version")
}

func TestValidateCommand(t *testing.T) {
	f := newFixture(t)

	out, _, err := runCLI(t, "validate", filepath.Join(f.dir, "task.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "as type 'taskdefinition'")
	assert.Contains(t, out, `task "Named Entity" (version 1.0.0): 1 workflow(s)`)
	assert.Contains(t, out, "task.yaml is valid")

	out, _, err = runCLI(t, "validate", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "matctl.yaml is valid")

	out, _, err = runCLI(t, "validate", f.docPath, "-c", f.config, "--task", "Named Entity")
	require.NoError(t, err)
	assert.Contains(t, out, "1 annotation(s)")
}

func TestValidateCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	bad := testutil.WriteFile(t, dir, "bad.json", `{"signal":"x","version":7,"asets":[]}`)

	out, _, err := runCLI(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
	assert.Contains(t, out, "version")

	_, _, err = runCLI(t, "validate", filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")

	unknown := testutil.WriteFile(t, dir, "unknown.yaml", "kind: Deployment\n")
	_, _, err = runCLI(t, "validate", unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto-detect")
}

func TestWorkflowCommand(t *testing.T) {
	f := newFixture(t)

	out, _, err := runCLI(t, "workflow", "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "workflow Demo")
	assert.Contains(t, out, "2. tag (tag, hand annotation)")
	assert.Contains(t, out, "3. Mark gold [mark gold] (hand annotation, synthesized)")
	assert.Contains(t, out, "4. report")
	assert.Contains(t, out, "tag -> mark gold, report")
	assert.Contains(t, out, "mark gold -> report")

	out, _, err = runCLI(t, "workflow", "-c", f.config, "--list")
	require.NoError(t, err)
	assert.Equal(t, "Named Entity\n", out)

	_, _, err = runCLI(t, "workflow", "-c", f.config, "--workflow", "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow")
}

func TestAdvanceAndUndo(t *testing.T) {
	f := newFixture(t)
	tagged := filepath.Join(f.dir, "tagged.json")

	out, stderr, err := runCLI(t, "advance", f.docPath, "-c", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"zone"}, phasesDone(t, []byte(out)))
	assert.Contains(t, stderr, "steps done: zone")
	assert.Equal(t, []string{"steps:zone"}, f.backend.Calls())

	require.NoError(t, os.WriteFile(f.docPath, []byte(out), 0o600))
	_, stderr, err = runCLI(t, "advance", f.docPath, "-c", f.config, "--through", "mark gold", "-o", tagged)
	require.NoError(t, err)
	assert.Contains(t, stderr, "steps done: zone, tag, mark gold")
	assert.Equal(t, []string{"steps:zone", "steps:tag"}, f.backend.Calls())

	data, err := os.ReadFile(tagged)
	require.NoError(t, err)
	assert.Equal(t, []string{"zone", "tag"}, phasesDone(t, data))
	assert.Equal(t, "human gold", segmentStatus(t, data))

	// Mark gold is recovered from the gold segments and undone locally.
	out, stderr, err = runCLI(t, "undo", tagged, "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, stderr, "undone (virtual): mark gold")
	assert.Equal(t, "non-gold", segmentStatus(t, []byte(out)))
	assert.Len(t, f.backend.Calls(), 2)

	out, stderr, err = runCLI(t, "undo", tagged, "-c", f.config, "--step", "tag")
	require.NoError(t, err)
	assert.Contains(t, stderr, "undone (backend): mark gold, tag")
	assert.Equal(t, []string{"zone"}, phasesDone(t, []byte(out)))
	assert.Equal(t, "undo_through:tag", f.backend.Calls()[2])
}

func TestAdvanceErrors(t *testing.T) {
	f := newFixture(t)

	_, _, err := runCLI(t, "advance", f.docPath, "-c", f.config, "--through", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[init]")
	assert.Contains(t, err.Error(), "unknown step")

	_, _, err = runCLI(t, "undo", f.docPath, "-c", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no step to undo")

	_, _, err = runCLI(t, "advance", filepath.Join(f.dir, "absent.json"), "-c", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read document")
}

func TestAdvance_PartialFailure(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "partial.json")

	_, _, err := runCLI(t, "advance", f.docPath, "-c", f.config, "--through", "report", "-o", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[report] steps")
	assert.Equal(t, []string{"steps:zone,tag", "steps:report"}, f.backend.Calls())

	// Steps that ran before the failure are kept.
	data, rerr := os.ReadFile(out)
	require.NoError(t, rerr)
	assert.Equal(t, []string{"zone", "tag"}, phasesDone(t, data))
	assert.Equal(t, "human gold", segmentStatus(t, data))
}

func TestAdvance_UnreachableBackend(t *testing.T) {
	f := newFixture(t)

	_, _, err := runCLI(t, "advance", f.docPath, "-c", f.config, "--backend", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Empty(t, f.backend.Calls())
}

func TestDocumentsCommands(t *testing.T) {
	f := newFixture(t)

	_, stderr, err := runCLI(t, "advance", f.docPath, "-c", f.config, "--save", "--doc-id", "doc-1", "-q")
	require.NoError(t, err)
	assert.Contains(t, stderr, "saved as doc-1")

	out, _, err := runCLI(t, "documents", "list", "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "doc-1\tNamed Entity\tDemo\t")

	out, _, err = runCLI(t, "docs", "show", "doc-1", "-c", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"zone"}, phasesDone(t, []byte(out)))

	// A stored document resumes where it left off and is saved back.
	_, stderr, err = runCLI(t, "advance", "doc-1", "--stored", "-c", f.config, "-q")
	require.NoError(t, err)
	assert.Contains(t, stderr, "steps done: zone, tag")
	assert.Contains(t, stderr, "saved as doc-1")

	out, _, err = runCLI(t, "documents", "show", "doc-1", "-c", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"zone", "tag"}, phasesDone(t, []byte(out)))

	out, _, err = runCLI(t, "documents", "delete", "doc-1", "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted doc-1")

	out, _, err = runCLI(t, "documents", "list", "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found.")

	_, _, err = runCLI(t, "documents", "show", "doc-1", "-c", f.config)
	assert.Error(t, err)
}
