package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/api"
	"github.com/MikeSquared-Agency/sibyl/internal/assist"
	"github.com/MikeSquared-Agency/sibyl/internal/config"
	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/embed"
	"github.com/MikeSquared-Agency/sibyl/internal/hermes"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/pipeline"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
	"github.com/MikeSquared-Agency/sibyl/internal/store"
)

const version = "0.3.0"

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("sibyl starting", "port", cfg.Port, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	embedder := embed.NewClient(cfg.EmbedURL)
	db, err := store.New(ctx, cfg.DatabaseURL, embedder)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Session state and pipeline stages
	sessions := session.NewManager(ctx, cfg.WindowSize, cfg.HistorySize, slog.Default())
	defer sessions.Shutdown()
	extractor := insight.New(llm, slog.Default())
	deduper := dedup.New(cfg.DedupThreshold, dedup.MergeAnnotate, slog.Default())

	// The pipeline is assembled in two steps: the answer waterfall publishes
	// late answers through the pipeline, which doesn't exist yet when the
	// detectors are built.
	var pipe *pipeline.Pipeline
	onLate := func(sessionID string, item assist.Item) {
		if pipe != nil {
			pipe.PublishLateAnswer(sessionID, item)
		}
	}

	detectors := []assist.Detector{
		assist.NewAnswerDetector(db, llm, assist.AnswerConfig{
			KBTimeout:           cfg.KBTimeout,
			KBRelevance:         cfg.KBRelevance,
			InMeetingSimilarity: cfg.InMeetingSimilarity,
			ListenWindow:        cfg.ListenWindow,
			FallbackTimeout:     cfg.FallbackTimeout,
			FallbackConfidence:  cfg.FallbackConfidence,
		}, onLate, slog.Default()),
		assist.NewClarifyDetector(llm, assist.ClarifyConfig{
			PatternFloor: cfg.ClarifyPatternFloor,
			ModelFloor:   cfg.ClarifyModelFloor,
			ModelTimeout: cfg.DetectorTimeout,
		}, slog.Default()),
		assist.NewConflictDetector(db, llm, assist.ConflictConfig{
			Relevance:       cfg.ConflictRelevance,
			ConfidenceFloor: cfg.ConflictConfidence,
			JudgeTimeout:    cfg.DetectorTimeout,
		}, slog.Default()),
		assist.NewQualityDetector(llm, assist.QualityConfig{
			Threshold:      cfg.QualityThreshold,
			RewriteTimeout: cfg.DetectorTimeout,
		}, slog.Default()),
		assist.NewFollowUpDetector(db, llm, assist.FollowUpConfig{
			Relevance:    cfg.FollowUpRelevance,
			Floor:        cfg.FollowUpFloor,
			MaxResults:   cfg.FollowUpMax,
			JudgeTimeout: cfg.DetectorTimeout,
		}, slog.Default()),
		assist.NewRepetitionDetector(llm, assist.RepetitionConfig{
			Window:       cfg.RepetitionWindow,
			MinCount:     cfg.RepetitionMinCount,
			Similarity:   cfg.RepetitionSimilarity,
			Floor:        cfg.RepetitionFloor,
			JudgeTimeout: cfg.DetectorTimeout,
		}, slog.Default()),
	}

	floors := map[assist.ItemType]float64{
		assist.TypeAutoAnswer:    cfg.FallbackConfidence,
		assist.TypeClarification: cfg.ClarifyPatternFloor,
		assist.TypeConflict:      cfg.ConflictConfidence,
		assist.TypeFollowUp:      cfg.FollowUpFloor,
		assist.TypeRepetition:    cfg.RepetitionFloor,
	}
	router := assist.NewRouter(detectors, floors, cfg.DetectorTimeout, slog.Default())
	tracker := assist.NewTimeTracker(assist.TimeConfig{
		MeetingWarnAfter: cfg.MeetingWarnAfter,
		MeetingWarnEvery: cfg.MeetingWarnEvery,
		TopicCap:         cfg.TopicCap,
		Cooldown:         cfg.AlertCooldown,
		CheckEvery:       cfg.TimeCheckEvery,
	}, slog.Default())

	pipe = pipeline.New(sessions, extractor, embedder, deduper, db, router, tracker, hermesClient, slog.Default())

	// Subscribe to meeting chunks
	if err := hermesClient.Subscribe(hermes.SubjectMeetingChunk, pipe.HandleMeetingChunk); err != nil {
		slog.Error("failed to subscribe to meeting chunks", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, version, cfg.APIToken, pipe, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectRegistered, hermes.Registration{
		AgentID:      "sibyl",
		Version:      version,
		Capabilities: []string{"insight_extraction", "proactive_assistance"},
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("sibyl ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("sibyl stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
