package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/inference"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const inferenceRequestTimeout = 30 * time.Second

func (s *Server) inferenceClientOrPanic() *inference.Client {
	client := s.inferenceClient()
	if client == nil {
		www.PanicBadRequestf("Inference service not configured. Set the %v variable", configdb.VarInferenceURL)
	}
	return client
}

// checkInference maps the service's errors onto our HTTP errors
func checkInference(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, inference.ErrAlreadyRunning), errors.Is(err, inference.ErrNotFound), errors.Is(err, inference.ErrNotRunning):
		www.PanicBadRequestf("%v", err)
	}
	www.Check(err)
}

// Start inference on a dataset. Unless the request body overrides them, the inference
// process joins the same room that we stream to.
func (s *Server) httpInferenceStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	client := s.inferenceClientOrPanic()
	opts := inference.StartOptions{}
	if r.ContentLength > 0 {
		www.ReadJSON(w, r, &opts, 64*1024)
	}
	if opts.LiveKitURL == "" || opts.RoomName == "" {
		cfg, err := s.configDB.StreamingConfig()
		www.Check(err)
		if opts.LiveKitURL == "" {
			opts.LiveKitURL = cfg.URL
		}
		if opts.RoomName == "" {
			opts.RoomName = cfg.Room
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), inferenceRequestTimeout)
	defer cancel()
	resp, err := client.StartInference(ctx, params.ByName("dataset"), opts)
	checkInference(err)
	www.SendJSON(w, resp)
}

func (s *Server) httpInferenceStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	client := s.inferenceClientOrPanic()
	ctx, cancel := context.WithTimeout(r.Context(), inferenceRequestTimeout)
	defer cancel()
	status, err := client.StopInference(ctx, params.ByName("dataset"))
	checkInference(err)
	www.SendJSON(w, status)
}

func (s *Server) httpInferenceStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	client := s.inferenceClientOrPanic()
	ctx, cancel := context.WithTimeout(r.Context(), inferenceRequestTimeout)
	defer cancel()
	status, err := client.Status(ctx, params.ByName("dataset"))
	checkInference(err)
	www.CacheNever(w)
	www.SendJSON(w, status)
}

func (s *Server) httpInferenceList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	client := s.inferenceClientOrPanic()
	ctx, cancel := context.WithTimeout(r.Context(), inferenceRequestTimeout)
	defer cancel()
	running, err := client.ListRunning(ctx)
	checkInference(err)
	www.CacheNever(w)
	www.SendJSON(w, running)
}
