package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/config"
	"github.com/krantius/raftcore/kv"
	"github.com/krantius/raftcore/server"
	"github.com/krantius/raftcore/shared/logging"
	"github.com/krantius/raftcore/storage"
	"github.com/krantius/raftcore/transport"
)

func main() {
	path := flag.String("config", os.Getenv("NODE_CONFIG"), "path to the cluster config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logrus.WithError(err).Fatal("Loading config")
	}

	logger, err := logging.Setup(cfg.LogLevel, os.Stderr)
	if err != nil {
		logrus.WithError(err).Fatal("Setting up logging")
	}
	log := logger.WithField("id", cfg.ID)

	stor, err := storage.NewFileStorage(cfg.DataDir, logger)
	if err != nil {
		log.WithError(err).Fatal("Opening storage")
	}

	srv, err := server.New(server.Config{
		Raft:         cfg.Raft(),
		TickInterval: cfg.TickInterval(),
		Storage:      stor,
		Store:        kv.NewMapStore(),
		Logger:       logger,
	})
	if err != nil {
		log.WithError(err).Fatal("Creating server")
	}

	tr, err := transport.NewRPCTransport(cfg.Raft().ID, cfg.ListenAddr(), cfg.Peers(), srv.Deliver, logger)
	if err != nil {
		log.WithError(err).Fatal("Starting transport")
	}
	defer tr.Close()

	api := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Serving api")
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Api server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx, tr)
		close(done)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	sig := <-c
	log.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	api.Shutdown(shutdownCtx)

	cancel()
	<-done
}
