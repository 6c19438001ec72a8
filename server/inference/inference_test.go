package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// fakeService mimics the inference service's process table
type fakeService struct {
	lock     sync.Mutex
	datasets map[string]bool
	running  map[string]int
	nextPID  int
	lastOpts StartOptions
}

func sendJSON(w http.ResponseWriter, code int, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(obj)
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, 200, map[string]any{"status": "healthy", "data_dir": "/data"})
	})
	mux.HandleFunc("POST /inference/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		id := r.PathValue("id")
		if pid, ok := f.running[id]; ok {
			sendJSON(w, 409, map[string]any{"error": "Inference already running for this dataset", "pid": pid, "status": "already_running"})
			return
		}
		if !f.datasets[id] {
			sendJSON(w, 404, map[string]any{"error": "Dataset not found"})
			return
		}
		json.NewDecoder(r.Body).Decode(&f.lastOpts)
		f.nextPID++
		f.running[id] = f.nextPID
		sendJSON(w, 200, map[string]any{"dataset_id": id, "pid": f.nextPID, "status": "started", "message": "Inference started successfully"})
	})
	mux.HandleFunc("GET /inference/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		id := r.PathValue("id")
		pid, ok := f.running[id]
		if !ok {
			sendJSON(w, 200, map[string]any{"dataset_id": id, "status": "not_running"})
			return
		}
		sendJSON(w, 200, map[string]any{"dataset_id": id, "status": "running", "pid": pid, "cpu_percent": 12.5, "memory_mb": 800})
	})
	mux.HandleFunc("POST /inference/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		id := r.PathValue("id")
		if _, ok := f.running[id]; !ok {
			sendJSON(w, 404, map[string]any{"error": "No inference running for this dataset", "status": "not_running"})
			return
		}
		delete(f.running, id)
		sendJSON(w, 200, map[string]any{"dataset_id": id, "status": "stopped"})
	})
	mux.HandleFunc("GET /inference/list", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		list := []map[string]any{}
		for id, pid := range f.running {
			list = append(list, map[string]any{"dataset_id": id, "pid": pid})
		}
		sendJSON(w, 200, map[string]any{"count": len(list), "running_inference": list})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeService) {
	svc := &fakeService{
		datasets: map[string]bool{"mug": true},
		running:  map[string]int{},
	}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return NewClient(logs.NewTestingLog(t), srv.URL+"/"), svc
}

func TestInferenceLifecycle(t *testing.T) {
	c, svc := newTestClient(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", h.Status)

	st, err := c.Status(ctx, "mug")
	require.NoError(t, err)
	require.False(t, st.IsRunning())
	require.Equal(t, StatusNotRunning, st.Status)

	started, err := c.StartInference(ctx, "mug", StartOptions{LiveKitURL: "ws://relay:7880", RoomName: "lab"})
	require.NoError(t, err)
	require.Equal(t, StatusStarted, started.Status)
	require.Equal(t, 1, started.PID)
	require.Equal(t, "lab", svc.lastOpts.RoomName)
	require.Equal(t, "ws://relay:7880", svc.lastOpts.LiveKitURL)

	st, err = c.Status(ctx, "mug")
	require.NoError(t, err)
	require.True(t, st.IsRunning())
	require.Equal(t, 12.5, st.CPUPercent)

	list, err := c.ListRunning(ctx)
	require.NoError(t, err)
	require.Equal(t, []RunningProcess{{DatasetID: "mug", PID: 1}}, list)

	_, err = c.StartInference(ctx, "mug", StartOptions{})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	stopped, err := c.StopInference(ctx, "mug")
	require.NoError(t, err)
	require.Equal(t, StatusStopped, stopped.Status)

	_, err = c.StopInference(ctx, "mug")
	require.ErrorIs(t, err, ErrNotRunning)

	list, err = c.ListRunning(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStartUnknownDataset(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.StartInference(context.Background(), "nope", StartOptions{})
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "Dataset not found")

	_, err = c.StartInference(context.Background(), "", StartOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestURLEscaping(t *testing.T) {
	c := NewClient(logs.NewTestingLog(t), "http://host:5000/")
	require.Equal(t, "http://host:5000/inference/a%2Fb/status", c.url("inference", "a/b", "status"))
}
