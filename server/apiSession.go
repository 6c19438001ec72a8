package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/pointer/pkg/gen"
	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/posechannel"
	"github.com/cyclopcam/pointer/server/session"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Upper bound on how long a request waits for the camera or the room
const sessionRequestTimeout = 20 * time.Second

type sessionJSON struct {
	session.State
	Poses posechannel.Stats `json:"poses"`
}

func (s *Server) sessionJSON() *sessionJSON {
	return &sessionJSON{
		State: s.session.Snapshot(),
		Poses: s.channel.Stats(),
	}
}

func (s *Server) httpSessionGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendJSON(w, s.sessionJSON())
}

// Start the camera. By default we wait for the capture task to finish, so that the
// response reflects the outcome. Pass wait=0 to return immediately.
func (s *Server) httpCaptureStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	done := s.session.StartCapture()
	if www.QueryValue(r, "wait") != "0" {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		case <-time.After(sessionRequestTimeout):
		}
	}
	www.SendJSON(w, s.sessionJSON())
}

func (s *Server) httpCaptureStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.session.StopCapture()
	www.SendJSON(w, s.sessionJSON())
}

// Connect to the room. Failures are reported in the session state, so the
// response is the state snapshot, whatever happened.
func (s *Server) httpStreamStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionRequestTimeout)
	defer cancel()
	err := s.session.StartStreaming(ctx)
	if errors.Is(err, session.ErrAlreadyConnecting) {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, s.sessionJSON())
}

func (s *Server) httpStreamStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionRequestTimeout)
	defer cancel()
	s.session.StopStreaming(ctx)
	www.SendJSON(w, s.sessionJSON())
}

func (s *Server) httpEventsGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := gen.Clamp(www.QueryInt(r, "limit"), 0, configdb.MaxSessionEvents)
	events, err := s.configDB.RecentSessionEvents(limit)
	www.Check(err)
	www.CacheNever(w)
	www.SendJSON(w, events)
}
