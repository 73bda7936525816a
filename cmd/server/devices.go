package main

import (
	"live-presenter/internal/adapter/ffmpeg"
	"live-presenter/internal/adapter/file"
	"live-presenter/internal/adapter/portaudio"
	"live-presenter/internal/config"
	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

func ffmpegConfig(c config.FFmpegConfig) ffmpeg.Config {
	fc := ffmpeg.DefaultConfig()
	if c.Binary != "" {
		fc.Binary = c.Binary
	}
	if c.AudioFormat != "" {
		fc.AudioFormat = c.AudioFormat
	}
	if c.AudioDevice != "" {
		fc.AudioDevice = c.AudioDevice
	}
	if c.VideoFormat != "" {
		fc.VideoFormat = c.VideoFormat
	}
	if c.VideoDevice != "" {
		fc.VideoDevice = c.VideoDevice
	}
	if c.StartupGrace > 0 {
		fc.StartupGrace = c.StartupGrace
	}
	return fc
}

// microphone builds the configured capture backend. The returned cleanup
// must run after the device is no longer used.
func microphone(cfg *config.Config) (domain.Device, domain.Encoder, func(), error) {
	switch cfg.Audio.Device {
	case config.BackendPortAudio:
		terminate, err := portaudio.Initialize()
		if err != nil {
			return nil, nil, nil, err
		}
		return &portaudio.Microphone{}, portaudio.WAVEncoder{}, terminate, nil
	case config.BackendFile:
		glog.Infof("Using recorded questions from %s", cfg.Audio.File)
		return file.NewMicrophone(cfg.Audio.File), file.Encoder{Mime: file.MimeFor(cfg.Audio.File)}, func() {}, nil
	default:
		fc := ffmpegConfig(cfg.FFmpeg)
		if err := ffmpeg.CheckInstallation(fc.Binary); err != nil {
			glog.Warningf("Microphone capture will fail: %v", err)
		}
		return ffmpeg.NewMicrophone(fc), ffmpeg.OggOpusEncoder{}, func() {}, nil
	}
}

func camera(cfg *config.Config) domain.Device {
	if cfg.Camera.Device == config.BackendFile {
		glog.Infof("Using looped camera footage from %s", cfg.Camera.File)
		return file.NewCamera(cfg.Camera.File)
	}
	fc := ffmpegConfig(cfg.FFmpeg)
	if err := ffmpeg.CheckInstallation(fc.Binary); err != nil {
		glog.Warningf("Camera capture will fail: %v", err)
	}
	return ffmpeg.NewCamera(fc)
}
