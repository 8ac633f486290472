package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	EmbedURL        string
	APIToken        string

	// Session state bounds.
	WindowSize     int // utterances kept in the sliding window
	HistorySize    int // insights kept for dedup/repetition matching
	DedupThreshold float64

	// Answer waterfall.
	KBTimeout           time.Duration
	KBRelevance         float64
	InMeetingSimilarity float64
	ListenWindow        time.Duration
	FallbackTimeout     time.Duration
	FallbackConfidence  float64

	// Clarification.
	ClarifyPatternFloor float64
	ClarifyModelFloor   float64

	// Conflict.
	ConflictRelevance  float64
	ConflictConfidence float64

	// Action-item quality.
	QualityThreshold float64

	// Follow-up.
	FollowUpMax       int
	FollowUpRelevance float64
	FollowUpFloor     float64

	// Repetition.
	RepetitionWindow     time.Duration
	RepetitionMinCount   int
	RepetitionSimilarity float64
	RepetitionFloor      float64

	// Time tracking.
	MeetingWarnAfter time.Duration
	MeetingWarnEvery time.Duration
	TopicCap         time.Duration
	AlertCooldown    time.Duration
	TimeCheckEvery   int // chunks between duration checks

	// Router.
	DetectorTimeout time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("SIBYL_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("SIBYL_MODEL", "claude-sonnet-4-20250514"),
		EmbedURL:        envStr("EMBED_URL", "http://embedder:8790"),
		APIToken:        envStr("SIBYL_API_TOKEN", ""),

		WindowSize:     envInt("SIBYL_WINDOW_SIZE", 50),
		HistorySize:    envInt("SIBYL_HISTORY_SIZE", 200),
		DedupThreshold: envFloat("SIBYL_DEDUP_THRESHOLD", 0.85),

		KBTimeout:           envDuration("SIBYL_KB_TIMEOUT", 2*time.Second),
		KBRelevance:         envFloat("SIBYL_KB_RELEVANCE", 0.70),
		InMeetingSimilarity: envFloat("SIBYL_INMEETING_SIMILARITY", 0.85),
		ListenWindow:        envDuration("SIBYL_LISTEN_WINDOW", 15*time.Second),
		FallbackTimeout:     envDuration("SIBYL_FALLBACK_TIMEOUT", 3*time.Second),
		FallbackConfidence:  envFloat("SIBYL_FALLBACK_CONFIDENCE", 0.70),

		ClarifyPatternFloor: envFloat("SIBYL_CLARIFY_PATTERN_FLOOR", 0.60),
		ClarifyModelFloor:   envFloat("SIBYL_CLARIFY_MODEL_FLOOR", 0.70),

		ConflictRelevance:  envFloat("SIBYL_CONFLICT_RELEVANCE", 0.75),
		ConflictConfidence: envFloat("SIBYL_CONFLICT_CONFIDENCE", 0.70),

		QualityThreshold: envFloat("SIBYL_QUALITY_THRESHOLD", 0.80),

		FollowUpMax:       envInt("SIBYL_FOLLOWUP_MAX", 3),
		FollowUpRelevance: envFloat("SIBYL_FOLLOWUP_RELEVANCE", 0.70),
		FollowUpFloor:     envFloat("SIBYL_FOLLOWUP_FLOOR", 0.60),

		RepetitionWindow:     envDuration("SIBYL_REPETITION_WINDOW", 15*time.Minute),
		RepetitionMinCount:   envInt("SIBYL_REPETITION_MIN_COUNT", 3),
		RepetitionSimilarity: envFloat("SIBYL_REPETITION_SIMILARITY", 0.75),
		RepetitionFloor:      envFloat("SIBYL_REPETITION_FLOOR", 0.70),

		MeetingWarnAfter: envDuration("SIBYL_MEETING_WARN_AFTER", 60*time.Minute),
		MeetingWarnEvery: envDuration("SIBYL_MEETING_WARN_EVERY", 15*time.Minute),
		TopicCap:         envDuration("SIBYL_TOPIC_CAP", 20*time.Minute),
		AlertCooldown:    envDuration("SIBYL_ALERT_COOLDOWN", 5*time.Minute),
		TimeCheckEvery:   envInt("SIBYL_TIME_CHECK_EVERY", 5),

		DetectorTimeout: envDuration("SIBYL_DETECTOR_TIMEOUT", 10*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
