package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/opus"
	"voicecore/backend/internal/voicecore/session"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/pkg/config"
	"voicecore/backend/pkg/logger"
)

// main wires a Session to one voice relay connection and runs it until
// the process receives a shutdown signal. It reads the
// VoiceServerUpdate-shaped connection parameters from the environment
// rather than from a real gateway, since the gateway that would
// deliver them lives outside this library.
func main() {
	if err := logger.Init(getEnv("ENV", "development")); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	update := session.VoiceServerUpdate{
		ServerID:  mustEnv(log, "VOICE_SERVER_ID"),
		SessionID: mustEnv(log, "VOICE_SESSION_ID"),
		Token:     mustEnv(log, "VOICE_TOKEN"),
		Endpoint:  mustEnv(log, "VOICE_ENDPOINT"),
	}
	userID := mustEnv(log, "VOICE_USER_ID")

	info := signalling.SessionInfo{
		ServerID:               update.ServerID,
		UserID:                 userID,
		SessionID:              update.SessionID,
		Token:                  update.Token,
		GatewayVersion:         8,
		MaxDAVEProtocolVersion: &cfg.MaxDAVEProtocolVersion,
	}

	encoder, err := opus.NewHrabanEncoder(0)
	if err != nil {
		log.Fatal("failed to initialize opus encoder", zap.Error(err))
	}

	sess := session.New(cfg, log, info, encoder, func() (opus.Decoder, error) {
		return opus.NewHrabanDecoder()
	})
	sess.OnAudio = func(ssrc uint32, pcm []int16) {
		log.Debug("decoded inbound voice frame", zap.Uint32("ssrc", ssrc), zap.Int("samples", len(pcm)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx, update); err != nil {
		log.Fatal("voice session handshake failed", zap.Error(err))
	}
	if err := sess.Run(ctx); err != nil {
		log.Fatal("voice session failed to start", zap.Error(err))
	}
	log.Info("voice session running", zap.String("state", sess.State().String()))

	<-ctx.Done()
	log.Info("shutting down voice session")
	if err := sess.Close(); err != nil {
		log.Error("error while closing voice session", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustEnv(log *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal("missing required environment variable", zap.String("key", key))
	}
	return v
}
