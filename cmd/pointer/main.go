package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/aligner"
	"github.com/cyclopcam/pointer/server"
	"github.com/cyclopcam/pointer/server/camera"
	"github.com/cyclopcam/pointer/server/configdb"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultDB := "$HOME/pointer/config.sqlite"

	parser := argparse.NewParser("pointer", "Stream a camera to a room, and overlay the poses that come back")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultDB})
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	rtspURL := parser.String("", "rtsp", &argparse.Options{Help: "RTSP URL of the camera (overrides the CameraURL variable)", Default: ""})
	rtspUser := parser.String("", "rtsp-user", &argparse.Options{Help: "RTSP username", Default: ""})
	rtspPassword := parser.String("", "rtsp-password", &argparse.Options{Help: "RTSP password", Default: ""})
	envFile := parser.String("", "env", &argparse.Options{Help: "Load POINTER_* environment variables from this file", Default: ".env"})
	modelFile := parser.String("", "model", &argparse.Options{Help: "OBJ file of the model to fit to the pose", Default: ""})
	identity := parser.String("", "identity", &argparse.Options{Help: "Our identity in the room", Default: "pointer"})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	autoStart := parser.Flag("", "autostart", &argparse.Options{Help: "Start the camera, and connect to the room if configured", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := configdb.LoadEnvFile(*envFile); err != nil {
		logger.Errorf("Failed to load %v: %v", *envFile, err)
		os.Exit(1)
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	if *configFile == nominalDefaultDB {
		*configFile = filepath.Join(home, "pointer", "config.sqlite")
	}

	configDB, err := configdb.NewConfigDB(logger, *configFile)
	if err != nil {
		logger.Errorf("Failed to open config database: %v", err)
		os.Exit(1)
	}
	defer configDB.Close()

	opts := server.DefaultOptions()
	opts.Identity = *identity
	opts.HotReloadWWW = *hotReloadWWW
	if *rtspURL != "" {
		opts.Camera = camera.RTSPConfig{
			URL:      *rtspURL,
			Username: *rtspUser,
			Password: *rtspPassword,
		}
	}
	if *modelFile != "" {
		f, err := os.Open(*modelFile)
		if err != nil {
			logger.Errorf("Failed to open model: %v", err)
			os.Exit(1)
		}
		mesh, err := aligner.LoadOBJ(f)
		f.Close()
		if err != nil {
			logger.Errorf("Failed to load model %v: %v", *modelFile, err)
			os.Exit(1)
		}
		opts.Mesh = mesh
	}

	srv, err := server.NewServer(logger, configDB, opts)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	if *autoStart {
		go autoStartSession(logger, srv, configDB)
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(*listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		os.Exit(1)
	}
	// ListenHTTP returns as soon as Shutdown closes the listener, before teardown is complete
	<-srv.ShutdownComplete
}
