package main

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/server"
	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/session"
)

// autoStartSession starts the camera, and then streams if we have somewhere to stream to
func autoStartSession(log logs.Log, srv *server.Server, configDB *configdb.ConfigDB) {
	sess := srv.Session()
	<-sess.StartCapture()
	if sess.Snapshot().Capture != session.CaptureActive {
		log.Warnf("Autostart: camera did not start. Not streaming")
		return
	}
	cfg, err := configDB.StreamingConfig()
	if err != nil || !cfg.IsConfigured() {
		log.Infof("Autostart: streaming is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sess.StartStreaming(ctx); err != nil {
		log.Warnf("Autostart: %v", err)
	}
}
