package server

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/cyclopcam/pointer/pkg/aligner"
	"github.com/cyclopcam/pointer/pkg/overlay"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const maxViewportDimension = 8192

type modelJSON struct {
	Transform aligner.Transform `json:"transform"`
	Updates   int64             `json:"updates"`
	Wireframe []overlay.Line    `json:"wireframe"`
}

// parseViewport reads width and height from the query string, falling back to the model viewport
func (s *Server) parseViewport(r *http.Request) pose.Size {
	vp := s.opts.ModelViewport
	if v := www.QueryValue(r, "width"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > maxViewportDimension {
			www.PanicBadRequestf("Invalid width '%v'", v)
		}
		vp.Width = f
	}
	if v := www.QueryValue(r, "height"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > maxViewportDimension {
			www.PanicBadRequestf("Invalid height '%v'", v)
		}
		vp.Height = f
	}
	return vp
}

// parseToggles enables every part of the overlay, unless it is turned off with eg "mask=0"
func parseToggles(r *http.Request) overlay.Toggles {
	t := overlay.AllToggles()
	t.Box3D = www.QueryValue(r, "box") != "0"
	t.Mask = www.QueryValue(r, "mask") != "0"
	t.DetectionBox = www.QueryValue(r, "detection") != "0"
	return t
}

// model fits the mesh to frame in the viewport that the wireframe will be drawn into
func (s *Server) model(frame *pose.Frame, viewport pose.Size) *modelJSON {
	t, wireframe := s.aligner.Fit(frame, viewport)
	return &modelJSON{
		Transform: t,
		Updates:   s.aligner.NumUpdates(),
		Wireframe: wireframe,
	}
}

func (s *Server) httpPoseGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	frame := s.channel.Current()
	if frame == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	www.SendJSON(w, frame)
}

func (s *Server) httpOverlayGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	vp := s.parseViewport(r)
	toggles := parseToggles(r)
	www.CacheNever(w)
	www.SendJSON(w, overlay.Render(s.channel.Current(), vp, toggles))
}

// Rasterize the current overlay onto a transparent background.
// Example: curl -o overlay.png "localhost:8080/api/overlay.png?width=640&height=480"
func (s *Server) httpOverlayPNG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	vp := s.parseViewport(r)
	toggles := parseToggles(r)
	dl := overlay.Render(s.channel.Current(), vp, toggles)
	buf := bytes.Buffer{}
	www.Check(overlay.EncodePNG(&buf, dl, nil))
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) httpModelGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	vp := s.parseViewport(r)
	www.CacheNever(w)
	www.SendJSON(w, s.model(s.channel.Current(), vp))
}

func (s *Server) httpModelReset(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.aligner.Reset()
	www.SendOK(w)
}
