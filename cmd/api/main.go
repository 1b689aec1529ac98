package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetscribe/livelistener/internal/analyzer"
	"github.com/meetscribe/livelistener/internal/config"
	"github.com/meetscribe/livelistener/internal/server"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
	"github.com/meetscribe/livelistener/pkg/stt/gate"
	"github.com/meetscribe/livelistener/pkg/stt/whisper"
)

// Entry point for the live listener server.
// Loads configuration, builds the transcription and analysis stack,
// exposes the websocket and HTTP surface.
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(2)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	mets := metrics.NewRegistry()
	transcriber := whisper.New(cfg.STT.ServiceURL, logger)
	speechGate := buildGate(cfg, logger)
	insight := buildAnalyzer(cfg, logger)

	// compose router
	router := gin.Default()
	dep := server.NewServerDependencies(cfg, logger, mets, speechGate, transcriber, insight)
	server.InitializeRoutes(router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Errorf("Server failed: %v", err)
		os.Exit(1)
	case <-quit:
	}

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown system")
}

// buildGate prefers the Silero sidecar when configured; it falls back
// to energy detection internally, so either way gating stays fail-open.
func buildGate(cfg *config.Settings, logger *Logger.Logger) gate.SpeechGate {
	gc := gate.Config{
		// Fallback rate; workers pass each session's declared rate per call.
		SampleRate:   16000,
		Threshold:    cfg.VAD.Threshold,
		MinSpeechMs:  cfg.VAD.MinSpeechMS,
		MinSilenceMs: cfg.VAD.MinSilenceMS,
	}
	if cfg.VAD.ServiceURL != "" {
		return gate.NewSileroGate(gc, cfg.VAD.ServiceURL, logger)
	}
	return gate.NewEnergyGate(gc)
}

func buildAnalyzer(cfg *config.Settings, logger *Logger.Logger) analyzer.Analyzer {
	switch cfg.Analyzer.Provider {
	case "openai":
		return analyzer.NewOpenAI(analyzer.OpenAIOptions{
			APIKey:      cfg.Analyzer.OpenAI.APIKey,
			Model:       cfg.Analyzer.OpenAI.Model,
			BaseURL:     cfg.Analyzer.OpenAI.BaseURL,
			Temperature: cfg.Analyzer.OpenAI.Temperature,
			MaxTokens:   cfg.Analyzer.OpenAI.MaxTokens,
		}, logger)
	case "ollama":
		return analyzer.NewOllama(analyzer.OllamaOptions{
			BaseURL:     cfg.Analyzer.Ollama.BaseURL,
			Model:       cfg.Analyzer.Ollama.Model,
			Temperature: cfg.Analyzer.Ollama.Temperature,
			MaxTokens:   cfg.Analyzer.Ollama.MaxTokens,
		}, logger)
	}
	logger.Info("Insight extraction disabled (LLM_PROVIDER=none)")
	return analyzer.NewDisabled()
}
