// Package inference controls the remote service that runs pose inference on our video,
// and publishes the resulting poses back into the room.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/requests"
)

var (
	ErrAlreadyRunning = errors.New("Inference already running for this dataset")
	ErrNotFound       = errors.New("Dataset not found, or not preprocessed")
	ErrNotRunning     = errors.New("No inference running for this dataset")
)

// Status values reported by the service
const (
	StatusStarted        = "started"
	StatusRunning        = "running"
	StatusNotRunning     = "not_running"
	StatusStopped        = "stopped"
	StatusAlreadyStopped = "already_stopped"
)

// StartOptions tell the inference process which room to join.
// Empty fields are filled in by the service's defaults.
type StartOptions struct {
	LiveKitURL string `json:"livekit_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	RoomName   string `json:"room_name,omitempty"`
}

type StartResponse struct {
	DatasetID  string `json:"dataset_id"`
	PID        int    `json:"pid"`
	BundlePath string `json:"bundle_path"`
	LogPath    string `json:"log_path"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type Status struct {
	DatasetID  string  `json:"dataset_id"`
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	PID        int     `json:"pid,omitempty"`
	Started    string  `json:"started,omitempty"`
	BundlePath string  `json:"bundle_path,omitempty"`
	LogPath    string  `json:"log_path,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
}

func (s *Status) IsRunning() bool {
	return s.Status == StatusRunning
}

type RunningProcess struct {
	DatasetID  string `json:"dataset_id"`
	PID        int    `json:"pid"`
	Started    string `json:"started"`
	BundlePath string `json:"bundle_path"`
}

type runningList struct {
	Count   int              `json:"count"`
	Running []RunningProcess `json:"running_inference"`
}

type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DataDir   string `json:"data_dir"`
}

// Client talks to the inference service
type Client struct {
	log     logs.Log
	baseURL string
	client  *http.Client
}

func NewClient(log logs.Log, baseURL string) *Client {
	return &Client{
		log:     logs.NewPrefixLogger(log, "Inference:"),
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// Stopping waits a few seconds for a graceful shutdown on the far side
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	return requests.RequestJSON[Health](ctx, c.client, "GET", c.url("health"), nil)
}

func (c *Client) StartInference(ctx context.Context, datasetID string, options StartOptions) (*StartResponse, error) {
	if datasetID == "" {
		return nil, ErrNotFound
	}
	c.log.Infof("Starting inference on dataset %v, room '%v'", datasetID, options.RoomName)
	resp, err := requests.RequestJSON[StartResponse](ctx, c.client, "POST", c.url("inference", datasetID, "start"), &options)
	if err != nil {
		return nil, translateError(err, map[int]error{
			http.StatusConflict: ErrAlreadyRunning,
			http.StatusNotFound: ErrNotFound,
		})
	}
	c.log.Infof("Inference started on dataset %v, pid %v", datasetID, resp.PID)
	return resp, nil
}

func (c *Client) StopInference(ctx context.Context, datasetID string) (*Status, error) {
	c.log.Infof("Stopping inference on dataset %v", datasetID)
	resp, err := requests.RequestJSON[Status](ctx, c.client, "POST", c.url("inference", datasetID, "stop"), nil)
	if err != nil {
		return nil, translateError(err, map[int]error{
			http.StatusNotFound: ErrNotRunning,
		})
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context, datasetID string) (*Status, error) {
	resp, err := requests.RequestJSON[Status](ctx, c.client, "GET", c.url("inference", datasetID, "status"), nil)
	if err != nil {
		return nil, translateError(err, nil)
	}
	return resp, nil
}

func (c *Client) ListRunning(ctx context.Context) ([]RunningProcess, error) {
	resp, err := requests.RequestJSON[runningList](ctx, c.client, "GET", c.url("inference", "list"), nil)
	if err != nil {
		return nil, translateError(err, nil)
	}
	if resp.Running == nil {
		return []RunningProcess{}, nil
	}
	return resp.Running, nil
}

// translateError maps HTTP status codes to our sentinel errors, and pulls the
// service's own error message out of the JSON body.
func translateError(err error, byStatus map[int]error) error {
	var se *requests.StatusError
	if !errors.As(err, &se) {
		return err
	}
	msg := se.Body
	body := struct {
		Error string `json:"error"`
	}{}
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if sentinel, ok := byStatus[se.StatusCode]; ok {
		return fmt.Errorf("%w: %v", sentinel, msg)
	}
	return fmt.Errorf("%v: %v", se.Status, msg)
}
