package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"live-presenter/internal/config"
	"live-presenter/internal/domain"
	"live-presenter/internal/infrastructure"
	"live-presenter/internal/usecase"

	"github.com/spf13/cobra"
)

var (
	probeRecord time.Duration
	probeOut     string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check capture devices without starting the server",
}

var probeMicCmd = &cobra.Command{
	Use:   "mic",
	Short: "Open the microphone, optionally recording a sample",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		mic, encoder, cleanup, err := microphone(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second+probeRecord)
		defer cancel()

		if probeRecord <= 0 {
			if err := usecase.NewDeviceSession(mic, domain.DeviceAudio).Probe(ctx, usecase.MicrophoneConstraints); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "microphone ok (%s)\n", cfg.Audio.Device)
			return nil
		}

		session := usecase.NewCaptureSession(mic, encoder, infrastructure.NewBlobStore(), nil, nil)
		defer session.Close()
		if _, err := session.Start(ctx); err != nil {
			return err
		}
		time.Sleep(probeRecord)
		a, err := session.Stop(ctx)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("recording was interrupted")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d bytes of %s (%s) in %d chunks\n",
			len(a.Data), a.MimeType, session.Duration().Round(time.Millisecond), a.Chunks)
		if probeOut != "" {
			return os.WriteFile(probeOut, a.Data, 0o644)
		}
		return nil
	},
}

var probeCameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Open and release the camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := usecase.NewDeviceSession(camera(cfg), domain.DeviceVideo).Probe(ctx, usecase.CameraConstraints); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "camera ok (%s)\n", cfg.Camera.Device)
		return nil
	},
}

func init() {
	probeMicCmd.Flags().DurationVar(&probeRecord, "record", 0, "record for this long and report the artifact")
	probeMicCmd.Flags().StringVar(&probeOut, "out", "", "write the recorded artifact to this file")
	probeCmd.AddCommand(probeMicCmd, probeCameraCmd)
}
