package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	"github.com/hi-zp/recording/internal/core/services"
	"github.com/hi-zp/recording/internal/infrastructure/audio"
	"github.com/hi-zp/recording/internal/infrastructure/media"
	"github.com/hi-zp/recording/internal/infrastructure/rtc"
	"github.com/hi-zp/recording/internal/infrastructure/signal"
	"github.com/hi-zp/recording/internal/infrastructure/upload"
	"github.com/hi-zp/recording/pkg/config"
	"github.com/hi-zp/recording/pkg/logger"
	"github.com/hi-zp/recording/pkg/retry"
	"github.com/hi-zp/recording/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file")
	roomToken := flag.String("room", "", "room token; a random one is generated when empty")
	inputFile := flag.String("input", "", "WAV file to play as the microphone; a tone is used when empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewConsole(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	token := *roomToken
	if token == "" {
		token = utils.GenerateRoomToken()
	}
	if !utils.IsValidRoomToken(token) {
		log.Fatalw("invalid room token", "token", token)
	}
	fmt.Printf("room: %s\n", utils.RoomName(token))
	fmt.Printf("share this token with the other peer: %s\n", token)

	provider, err := buildProvider(cfg, *inputFile)
	if err != nil {
		log.Fatalw("capture setup failed", "error", err)
	}

	devices := media.NewManager(provider, media.ManagerConfig{
		SampleRate:        cfg.Audio.SampleRate,
		Channels:          cfg.Audio.Channels,
		FrameSamples:      cfg.Audio.FrameSize,
		MuteRecoveryDelay: cfg.Audio.MuteRecoveryDelay,
	}, log)

	ctx := context.Background()
	client, err := signal.Dial(ctx, cfg.Relay.URL, log)
	if err != nil {
		log.Fatalw("relay connection failed", "error", err)
	}

	svc := services.NewCallService(client, devices, services.Config{
		ICEServers:   rtc.ICEServersFromConfig(cfg.WebRTC.ICEServers),
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		FrameSamples: cfg.Audio.FrameSize,
		Format:       cfg.Audio.Format,
	}, log)

	svc.OnStatus(func(st domain.CallStatus) {
		fmt.Printf("status: %s\n", st.Line)
	})
	svc.OnRecording(func(rec *domain.Recording) {
		saveRecording(cfg, rec, log)
	})

	if err := svc.JoinRoom(ctx, token); err != nil {
		log.Fatalw("room join failed", "error", err)
	}

	start := time.Now()
	levelTicker := time.NewTicker(2 * time.Second)
	defer levelTicker.Stop()
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-levelTicker.C:
			local, remote := svc.Levels()
			log.Infow("levels", "local", fmt.Sprintf("%.2f", local), "remote", fmt.Sprintf("%.2f", remote))
		case sig := <-sigChan:
			log.Infow("received shutdown signal", "signal", sig)
			svc.Close()
			log.Infow("call ended", "duration", utils.FormatDuration(time.Since(start)))
			return
		}
	}
}

// buildProvider wires the headless capture devices: a synthesized tone and,
// when -input is given, a looping WAV file source.
func buildProvider(cfg *config.Config, inputFile string) (ports.DeviceProvider, error) {
	rate := cfg.Audio.SampleRate
	channels := cfg.Audio.Channels
	frame := cfg.Audio.FrameSize

	devices := []media.SimulatedDevice{{
		Info: ports.DeviceInfo{ID: "tone", Label: "Synthesized tone", Kind: domain.MediaAudio},
		Open: func(c ports.AudioConstraints) (ports.CaptureSource, error) {
			return media.NewToneSource("tone", 440, rate, channels, frame, true), nil
		},
	}}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, err
		}
		samples, fileRate, fileChannels, err := audio.ParseWAV(data)
		if err != nil {
			return nil, err
		}
		if fileRate != rate || fileChannels != channels {
			return nil, fmt.Errorf("input must be %d Hz / %d channel PCM, got %d Hz / %d",
				rate, channels, fileRate, fileChannels)
		}
		devices = append([]media.SimulatedDevice{{
			Info: ports.DeviceInfo{ID: "file", Label: filepath.Base(inputFile), Kind: domain.MediaAudio},
			Open: func(c ports.AudioConstraints) (ports.CaptureSource, error) {
				return media.NewBufferSource("file", samples, rate, channels, true, true), nil
			},
		}}, devices...)
	}

	return media.NewSimulatedProvider(devices...), nil
}

func saveRecording(cfg *config.Config, rec *domain.Recording, log *zap.SugaredLogger) {
	name := utils.ArtifactName(rec.CreatedAt, rec.Ext())
	path := filepath.Join(cfg.Audio.OutputDir, name)
	if err := os.WriteFile(path, rec.Data, 0o644); err != nil {
		log.Errorw("failed to save recording", "path", path, "error", err)
		return
	}
	fmt.Printf("recording saved: %s (%d bytes)\n", path, len(rec.Data))

	if cfg.Upload.Enabled {
		uploader := upload.NewUploader(cfg.Upload.URL, retry.DefaultConfig(), log)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		url, err := uploader.Upload(ctx, rec)
		if err != nil {
			log.Errorw("recording upload failed", "error", err)
			return
		}
		fmt.Printf("recording uploaded: %s\n", url)
	}
}
