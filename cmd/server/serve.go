package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-presenter/internal/adapter/backend"
	"live-presenter/internal/adapter/webrtc"
	"live-presenter/internal/api"
	"live-presenter/internal/config"
	"live-presenter/internal/infrastructure"
	"live-presenter/internal/usecase"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the presenter HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	glog.Infof("Starting presenter (backend %s, audio %s, camera %s)", cfg.Backend.URL, cfg.Audio.Device, cfg.Camera.Device)

	client := backend.NewClient(cfg.Backend.URL, backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}))

	handoff, err := infrastructure.NewBadgerHandoff(cfg.Handoff.TTL)
	if err != nil {
		return err
	}
	defer handoff.Close()

	blobs := infrastructure.NewBlobStore()
	events := infrastructure.NewEventBroadcaster()
	defer events.Close()

	mic, encoder, cleanup, err := microphone(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	workflow := usecase.NewWorkflow(client, handoff, events, usecase.WorkflowConfig{
		ExistingVoiceID:     cfg.Workflow.ExistingVoiceID,
		FallbackVoiceID:     cfg.Workflow.FallbackVoiceID,
		FallbackVideoFileID: cfg.Workflow.FallbackVideoFileID,
	})
	capture := usecase.NewCaptureSession(mic, encoder, blobs, client, events)
	defer capture.Close()
	cam := usecase.NewCameraSession(camera(cfg), events)
	defer cam.Close()
	relay := usecase.NewCameraRelay(cam, events)
	defer relay.Stop()
	viewers := webrtc.NewManager(cfg.WebRTC.ICEServers)
	defer viewers.Close()

	h := api.NewHandlers(api.Deps{
		Workflow: workflow,
		Capture:  capture,
		Camera:   cam,
		Relay:    relay,
		Viewers:  viewers,
		Handoff:  handoff,
		Batch:    client,
		Events:   events,
		Language: cfg.Workflow.Language,
	})
	var static http.Handler
	if cfg.Server.StaticDir != "" {
		static = http.FileServer(http.Dir(cfg.Server.StaticDir))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      h.Router(blobs, static),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("HTTP Server listening on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	glog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Close the event feed first so websocket handlers return.
	events.Close()
	if err := srv.Shutdown(ctx); err != nil {
		glog.Errorf("Server forced to shutdown: %v", err)
	}
	glog.Info("Server exited")
	return nil
}
