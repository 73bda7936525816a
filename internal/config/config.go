// Package config loads server settings from defaults, an optional config
// file, a .env file and PRESENTER_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PRESENTER"

// Device backends.
const (
	BackendFFmpeg    = "ffmpeg"
	BackendPortAudio = "portaudio"
	BackendFile      = "file"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Audio    AudioConfig
	Camera   CameraConfig
	FFmpeg   FFmpegConfig
	Workflow WorkflowConfig
	Handoff  HandoffConfig
	WebRTC   WebRTCConfig
}

type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	StaticDir    string
}

type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type AudioConfig struct {
	// Device is ffmpeg, portaudio or file.
	Device string
	File   string
}

type CameraConfig struct {
	// Device is ffmpeg or file.
	Device string
	File   string
}

type FFmpegConfig struct {
	Binary       string
	AudioFormat  string
	AudioDevice  string
	VideoFormat  string
	VideoDevice  string
	StartupGrace time.Duration
}

type WorkflowConfig struct {
	ExistingVoiceID     string
	FallbackVoiceID     string
	FallbackVideoFileID string
	Language            string
}

type HandoffConfig struct {
	TTL time.Duration
}

type WebRTCConfig struct {
	ICEServers []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Generation can take minutes; the write timeout must cover it.
	v.SetDefault("server.write_timeout", 11*time.Minute)
	v.SetDefault("server.static_dir", "")

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 10*time.Minute)

	v.SetDefault("audio.device", BackendFFmpeg)
	v.SetDefault("audio.file", "assets/question.ogg")
	v.SetDefault("camera.device", BackendFFmpeg)
	v.SetDefault("camera.file", "assets/camera.ivf")

	v.SetDefault("ffmpeg.binary", "ffmpeg")
	v.SetDefault("ffmpeg.audio_format", "")
	v.SetDefault("ffmpeg.audio_device", "")
	v.SetDefault("ffmpeg.video_format", "")
	v.SetDefault("ffmpeg.video_device", "")
	v.SetDefault("ffmpeg.startup_grace", 300*time.Millisecond)

	v.SetDefault("workflow.existing_voice_id", "7649e9a20ba74165aa6b7873cd95e303")
	v.SetDefault("workflow.fallback_voice_id", "demo_voice_fallback_123")
	v.SetDefault("workflow.fallback_video_file_id", "demo_video_fallback_456")
	v.SetDefault("workflow.language", "en-US")

	v.SetDefault("handoff.ttl", 6*time.Hour)
	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
}

// Load reads configuration. configFile may be empty; a missing .env is
// not an error.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		glog.V(1).Infof("config: no .env loaded: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("presenter")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:      v.GetString("server.address"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			StaticDir:    v.GetString("server.static_dir"),
		},
		Backend: BackendConfig{
			URL:     strings.TrimRight(v.GetString("backend.url"), "/"),
			Timeout: v.GetDuration("backend.timeout"),
		},
		Audio: AudioConfig{
			Device: strings.ToLower(v.GetString("audio.device")),
			File:   v.GetString("audio.file"),
		},
		Camera: CameraConfig{
			Device: strings.ToLower(v.GetString("camera.device")),
			File:   v.GetString("camera.file"),
		},
		FFmpeg: FFmpegConfig{
			Binary:       v.GetString("ffmpeg.binary"),
			AudioFormat:  v.GetString("ffmpeg.audio_format"),
			AudioDevice:  v.GetString("ffmpeg.audio_device"),
			VideoFormat:  v.GetString("ffmpeg.video_format"),
			VideoDevice:  v.GetString("ffmpeg.video_device"),
			StartupGrace: v.GetDuration("ffmpeg.startup_grace"),
		},
		Workflow: WorkflowConfig{
			ExistingVoiceID:     v.GetString("workflow.existing_voice_id"),
			FallbackVoiceID:     v.GetString("workflow.fallback_voice_id"),
			FallbackVideoFileID: v.GetString("workflow.fallback_video_file_id"),
			Language:            v.GetString("workflow.language"),
		},
		Handoff: HandoffConfig{
			TTL: v.GetDuration("handoff.ttl"),
		},
		WebRTC: WebRTCConfig{
			ICEServers: v.GetStringSlice("webrtc.ice_servers"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Audio.Device {
	case BackendFFmpeg, BackendPortAudio, BackendFile:
	default:
		return fmt.Errorf("audio.device %q: want ffmpeg, portaudio or file", c.Audio.Device)
	}
	switch c.Camera.Device {
	case BackendFFmpeg, BackendFile:
	default:
		return fmt.Errorf("camera.device %q: want ffmpeg or file", c.Camera.Device)
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url must be set")
	}
	if c.Audio.Device == BackendFile && c.Audio.File == "" {
		return errors.New("audio.file must be set for the file device")
	}
	if c.Camera.Device == BackendFile && c.Camera.File == "" {
		return errors.New("camera.file must be set for the file device")
	}
	if c.Handoff.TTL <= 0 {
		return fmt.Errorf("handoff.ttl must be positive, got %s", c.Handoff.TTL)
	}
	return nil
}
