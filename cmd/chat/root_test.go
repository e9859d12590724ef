package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path    string
	session string
	body    map[string]interface{}
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (rec *recorder) record(r *http.Request) {
	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, recorded{path: r.URL.Path, session: r.Header.Get("X-Session-ID"), body: body})
}

func (rec *recorder) all() []recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]recorded(nil), rec.calls...)
}

func fakeServer(t *testing.T) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	record := rec.record
	mux := http.NewServeMux()
	mux.HandleFunc("/task-manager", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"result":"added"}`))
	})
	mux.HandleFunc("/medication-reminder", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"result":"Reminder: Aspirin"}`))
	})
	mux.HandleFunc("/ramification-calculator", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"An error occurred while processing your request."}`))
	})
	mux.HandleFunc("/update-schedule", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"result":"Schedule updated successfully"}`))
	})
	mux.HandleFunc("/api/schedule", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"morning":[{"name":"Aspirin"}],"afternoon":[],"evening":[],"night":[],"as_needed":[]}`))
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","providers":["gemini"],"sessions":2}`))
	})
	mux.HandleFunc("/api/gateway/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"platform":"rest","connected":true}]`))
	})
	mux.HandleFunc("/api/gateway/rest/message", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"persona":"task-manager","content":"on it"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, rec
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAskTaskManager(t *testing.T) {
	ts, rec := fakeServer(t)

	stdout, _, err := executeCLI(t, "", "--server", ts.URL, "--user", "ana", "ask", "task", "buy", "milk")
	require.NoError(t, err)
	assert.Equal(t, "added\n", stdout)

	calls := rec.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "buy milk", calls[0].body["userInput"])
	assert.Equal(t, "cli:ana", calls[0].session)
}

func TestAskRemindSendsTime(t *testing.T) {
	ts, rec := fakeServer(t)

	_, _, err := executeCLI(t, "", "--server", ts.URL, "ask", "remind", "--time", "2025-03-01 08:00", "morning")
	require.NoError(t, err)
	calls := rec.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "2025-03-01 08:00", calls[0].body["currentTime"])
}

func TestAskSurfacesServerError(t *testing.T) {
	ts, _ := fakeServer(t)

	_, _, err := executeCLI(t, "", "--server", ts.URL, "ask", "ramify", "quit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "An error occurred while processing your request.")
}

func TestAskRejectsUnknownPersona(t *testing.T) {
	ts, _ := fakeServer(t)

	_, _, err := executeCLI(t, "", "--server", ts.URL, "ask", "poet", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown persona")
}

func TestScheduleSetFromFile(t *testing.T) {
	ts, rec := fakeServer(t)
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"morning":[{"name":"Aspirin"}]}`), 0o600))

	stdout, _, err := executeCLI(t, "", "--server", ts.URL, "schedule", "set", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Schedule updated successfully")

	calls := rec.all()
	require.Len(t, calls, 1)
	sched, ok := calls[0].body["schedule"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, sched, "morning")
}

func TestScheduleShow(t *testing.T) {
	ts, _ := fakeServer(t)

	stdout, _, err := executeCLI(t, "", "--server", ts.URL, "schedule", "show")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, `"name": "Aspirin"`)
}

func TestStatus(t *testing.T) {
	ts, _ := fakeServer(t)

	stdout, _, err := executeCLI(t, "", "--server", ts.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Providers: gemini")
	assert.Contains(t, stdout, "rest")
}

func TestInteractiveChat(t *testing.T) {
	ts, rec := fakeServer(t)

	stdout, _, err := executeCLI(t, "plan my day\n\nquit\n", "--server", ts.URL, "--user", "ana")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[task-manager]")
	assert.Contains(t, stdout, "on it")
	assert.Contains(t, stdout, "Bye!")

	calls := rec.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "ana", calls[0].body["channel_id"])
}
