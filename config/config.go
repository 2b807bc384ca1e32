package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the value surface the core consumes. Everything comes from the
// environment; main loads .env through godotenv before calling Load.
type Config struct {
	// Delivery
	QuotaCooldown     time.Duration // uploads short-circuit to local storage this long after a quota error
	ResetInterval     time.Duration // cached connection + memory reclamation interval
	MaxUploadAttempts int
	UploadBatchSize   int
	BatchPause        time.Duration // pause between upload batches
	UploadConcurrency int           // global bound on outstanding uploads

	// Sessions
	MaxSessionDuration time.Duration
	CloseDelay         time.Duration // grace before the meeting channel is removed
	TriggerChannel     string        // channel name that starts a meeting

	// Collaborators
	VoiceGatewayURL string // websocket endpoint of the voice platform bridge
	SpeechLanguage  string
	OutputLanguage  string
	GCSBucket       string
	GCPProject      string
	GCPLocation     string
	GeminiModel     string

	// Local durable state
	RecordingsDir string
	BackupDir     string

	// Ops
	MemoryCheckInterval time.Duration
	HTTPPort            string
	JWTSecret           string
}

func Load() Config {
	return Config{
		QuotaCooldown:     envDuration("UPLOAD_QUOTA_COOLDOWN", 5*time.Minute),
		ResetInterval:     envDuration("CONNECTION_RESET_INTERVAL", 4*time.Hour),
		MaxUploadAttempts: envInt("MAX_UPLOAD_ATTEMPTS", 3),
		UploadBatchSize:   envInt("UPLOAD_BATCH_SIZE", 3),
		BatchPause:        envDuration("UPLOAD_BATCH_PAUSE", 2*time.Second),
		UploadConcurrency: envInt("MAX_UPLOAD_CONCURRENCY", 4),

		MaxSessionDuration: envDuration("MAX_SESSION_DURATION", 6*time.Hour),
		CloseDelay:         envDuration("CHANNEL_CLOSE_DELAY", 5*time.Minute),
		TriggerChannel:     envString("MEETING_ROOM_NAME", "meeting-room"),

		VoiceGatewayURL: envString("VOICE_GATEWAY_URL", "ws://localhost:9090/voice"),
		SpeechLanguage:  envString("SPEECH_LANGUAGE", "en-US"),
		OutputLanguage:  envString("OUTPUT_LANGUAGE", "en-US"),
		GCSBucket:       os.Getenv("GCS_BUCKET_NAME"),
		GCPProject:      os.Getenv("GCP_PROJECT_ID"),
		GCPLocation:     envString("GCP_LOCATION", "us-central1"),
		GeminiModel:     envString("GEMINI_MODEL", "gemini-1.5-flash"),

		RecordingsDir: envString("RECORDINGS_DIR", "recordings"),
		BackupDir:     envString("BACKUP_DIR", "backup"),

		MemoryCheckInterval: envDuration("MEMORY_CHECK_INTERVAL", time.Hour),
		HTTPPort:            envString("PORT", "8080"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
