package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/server/relay"
	"github.com/cyclopcam/www"
	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
)

func main() {
	parser := argparse.NewParser("pointerrelay", "Room server that forwards video and data messages between peers")
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP listen address", Default: ":7880"})
	envFile := parser.String("", "env", &argparse.Options{Help: "Load POINTER_RELAY_TOKEN from this file", Default: ".env"})
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
	logger = logs.NewPrefixLogger(logger, "relay")

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Errorf("Failed to load %v: %v", *envFile, err)
		os.Exit(1)
	}
	token := os.Getenv("POINTER_RELAY_TOKEN")
	if token == "" {
		logger.Warnf("POINTER_RELAY_TOKEN is not set. Anybody can join any room")
	}

	rl := relay.New(logger, token)
	router := httprouter.New()
	router.Handler("GET", "/rtc", rl)
	www.Handle(logger, router, "GET", "/api/rooms/:room", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		stats, ok := rl.Stats(params.ByName("room"))
		if !ok {
			www.PanicBadRequestf("Room '%v' not found", params.ByName("room"))
		}
		www.SendJSON(w, stats)
	})

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: router,
	}

	signalIn := make(chan os.Signal, 1)
	signal.Notify(signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalIn
		logger.Infof("Received OS signal '%v'. Shutting down", sig.String())
		rl.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)

	logger.Infof("Listening on %v", *listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
