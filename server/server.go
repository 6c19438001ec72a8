package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/aligner"
	"github.com/cyclopcam/pointer/pkg/event"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/pkg/projection"
	"github.com/cyclopcam/pointer/server/camera"
	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/inference"
	"github.com/cyclopcam/pointer/server/posechannel"
	"github.com/cyclopcam/pointer/server/session"
	"github.com/cyclopcam/pointer/server/transport"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"gonum.org/v1/gonum/spatial/r3"
)

type Options struct {
	Camera    camera.RTSPConfig   // Overrides the camera variables in the config DB, if URL is set
	Provider  camera.Provider     // If nil, an RTSP provider is created
	Transport transport.Transport // If nil, a websocket transport is created
	Identity  string              // Our identity in the room

	ModelViewport pose.Size    // Viewport used to fit the model to incoming poses
	Mesh          aligner.Mesh // If nil, a 10cm cube
	OverlayFPS    float64      // Push rate of /api/ws/overlay
	HotReloadWWW  bool         // Serve static files from disk instead of the embedded copy
}

func DefaultOptions() Options {
	return Options{
		Identity:      "pointer",
		ModelViewport: pose.Size{Width: 1280, Height: 720},
		OverlayFPS:    30,
	}
}

type Server struct {
	Log              logs.Log
	ShutdownComplete chan bool // Closed when Shutdown has finished

	configDB   *configdb.ConfigDB
	opts       Options
	channel    *posechannel.Channel
	session    *session.Session
	aligner    *aligner.Aligner
	transport  transport.Transport
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	poseListener event.ListenerFunc[*pose.Frame]

	shutdownLock sync.Mutex
	isShutdown   bool
	shutdown     chan bool // Closed when shutdown starts
}

func NewServer(logger logs.Log, configDB *configdb.ConfigDB, opts Options) (*Server, error) {
	def := DefaultOptions()
	if !opts.ModelViewport.Valid() {
		opts.ModelViewport = def.ModelViewport
	}
	if opts.OverlayFPS <= 0 {
		opts.OverlayFPS = def.OverlayFPS
	}
	if opts.Identity == "" {
		opts.Identity = def.Identity
	}
	if opts.Mesh == nil {
		opts.Mesh = &aligner.BoxMesh{Size: r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}}
	}

	s := &Server{
		Log:      logger,
		configDB: configDB,
		opts:     opts,
		shutdown: make(chan bool),

		ShutdownComplete: make(chan bool),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}

	provider := opts.Provider
	if provider == nil {
		cfg, err := s.cameraConfig()
		if err != nil {
			return nil, err
		}
		provider = camera.NewRTSPProvider(logger, cfg)
	}

	s.transport = opts.Transport
	if s.transport == nil {
		s.transport = transport.NewWebSocketTransport(logger, "", opts.Identity)
	}

	streamCfg, err := configDB.StreamingConfig()
	if err != nil {
		return nil, err
	}
	channelCfg := posechannel.DefaultConfig()
	channelCfg.Topic = streamCfg.PoseTopic
	s.channel = posechannel.New(logger, channelCfg)

	sessionOpts := session.DefaultOptions()
	sessionOpts.Recorder = configDB
	s.session = session.New(logger, provider, s.transport, configDB, s.channel, sessionOpts)

	s.aligner = aligner.New(opts.Mesh, projection.DefaultCamera())
	s.poseListener = func(f *pose.Frame) {
		if f != nil {
			s.aligner.Update(f, s.opts.ModelViewport)
		}
	}
	s.channel.AddListener(&s.poseListener)

	if err := s.setupHttpRoutes(); err != nil {
		s.session.Close()
		return nil, err
	}
	return s, nil
}

// cameraConfig merges the command line camera settings with those in the config DB
func (s *Server) cameraConfig() (camera.RTSPConfig, error) {
	if s.opts.Camera.URL != "" {
		return s.opts.Camera, nil
	}
	cfg := camera.RTSPConfig{}
	var err error
	if cfg.URL, err = s.configDB.GetVariable(configdb.VarCameraURL); err != nil {
		return cfg, err
	}
	if cfg.Username, err = s.configDB.GetVariable(configdb.VarCameraUsername); err != nil {
		return cfg, err
	}
	if cfg.Password, err = s.configDB.GetVariable(configdb.VarCameraPassword); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// inferenceClient returns nil if no inference service is configured
func (s *Server) inferenceClient() *inference.Client {
	url, err := s.configDB.GetVariable(configdb.VarInferenceURL)
	if err != nil || url == "" {
		return nil
	}
	return inference.NewClient(s.Log, url)
}

func (s *Server) Session() *session.Session {
	return s.session
}

func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-s.signalIn:
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		case <-s.shutdown:
		}
	}()
}

func (s *Server) IsShutdown() bool {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()
	return s.isShutdown
}

// Shutdown stops the session (camera and transport), and then the HTTP server
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	if s.isShutdown {
		s.shutdownLock.Unlock()
		return
	}
	s.isShutdown = true
	close(s.shutdown)
	s.shutdownLock.Unlock()

	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
	}
	s.channel.RemoveListener(&s.poseListener)
	s.session.Close()

	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown: %v", err)
		}
	}
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownComplete)
}
