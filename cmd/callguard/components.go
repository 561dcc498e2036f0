package main

import (
	"fmt"

	"callguard/pkg/analysis"
	"callguard/pkg/capture"
	"callguard/pkg/config"
	"callguard/pkg/history"
	"callguard/pkg/session"
	"callguard/pkg/upload"
)

// openHistory opens the configured history backend. The returned close
// function is never nil.
func openHistory(cfg config.HistoryConfig) (history.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		return history.NewMemoryStore(), noop, nil
	case "redis":
		store, err := history.NewRedisStore(history.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			Database:     cfg.Redis.Database,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, cfg.Key, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "file", "":
		store, err := history.NewFileStore(cfg.Path, cfg.Key, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// newCaptureDevice builds the microphone, or a WAV replay for test calls
func newCaptureDevice(cfg config.CaptureConfig) (capture.Device, error) {
	switch cfg.Device {
	case "wav":
		if cfg.WAVPath == "" {
			return nil, fmt.Errorf("CAPTURE_WAV_PATH is required for the wav capture device")
		}
		return capture.NewWAVDevice(cfg.WAVPath, cfg.WAVRealtime, logger), nil
	case "ffmpeg", "":
		ffcfg := capture.DefaultFFmpegConfig()
		if cfg.FFmpegPath != "" {
			ffcfg.Path = cfg.FFmpegPath
		}
		if cfg.FFmpegFormat != "" {
			ffcfg.Format = cfg.FFmpegFormat
		}
		if cfg.FFmpegInput != "" {
			ffcfg.Input = cfg.FFmpegInput
		}
		if cfg.SampleRate > 0 {
			ffcfg.SampleRate = cfg.SampleRate
		}
		if cfg.BlockSize > 0 {
			ffcfg.BlockSize = cfg.BlockSize
		}
		return capture.NewFFmpegDevice(ffcfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Device)
	}
}

// newSessionConfig applies the live model and the outbound frame size
func newSessionConfig(cfg *config.Config) session.Config {
	sessionConfig := session.DefaultConfig()
	if cfg.Model.LiveModel != "" {
		sessionConfig.Model = cfg.Model.LiveModel
	}
	if cfg.Capture.BlockSize > 0 {
		sessionConfig.BlockSize = cfg.Capture.BlockSize
	}
	return sessionConfig
}

// savedFanout tells every notifier about an uploaded analysis
type savedFanout []upload.Notifier

func (f savedFanout) SessionSaved(entry analysis.HistoryEntry) {
	for _, n := range f {
		n.SessionSaved(entry)
	}
}
