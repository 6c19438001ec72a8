package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// limited is for routes that touch the camera, the room, or the remote inference service.
	// Each route gets its own limiter, so we don't need httprate.KeyByEndpoint.
	limited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limiter := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/session", s.httpSessionGet)
	limited("POST", "/api/capture/start", s.httpCaptureStart, 20, time.Minute)
	limited("POST", "/api/capture/stop", s.httpCaptureStop, 20, time.Minute)
	limited("POST", "/api/stream/start", s.httpStreamStart, 20, time.Minute)
	limited("POST", "/api/stream/stop", s.httpStreamStop, 20, time.Minute)

	handle("GET", "/api/pose", s.httpPoseGet)
	handle("GET", "/api/overlay", s.httpOverlayGet)
	handle("GET", "/api/overlay.png", s.httpOverlayPNG)
	handle("GET", "/api/model", s.httpModelGet)
	handle("POST", "/api/model/reset", s.httpModelReset)
	handle("GET", "/api/ws/overlay", s.httpOverlayWebSocket)

	handle("GET", "/api/config", s.httpConfigGetVariables)
	limited("POST", "/api/config", s.httpConfigSetVariables, 30, time.Minute)
	handle("GET", "/api/config/definitions", s.httpConfigGetVariableDefinitions)
	handle("GET", "/api/events", s.httpEventsGet)

	handle("GET", "/api/inference", s.httpInferenceList)
	limited("POST", "/api/inference/:dataset/start", s.httpInferenceStart, 10, time.Minute)
	limited("POST", "/api/inference/:dataset/stop", s.httpInferenceStop, 10, time.Minute)
	handle("GET", "/api/inference/:dataset/status", s.httpInferenceStatus)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.opts.HotReloadWWW {
		relRoot := "server/www"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "pong")
}
