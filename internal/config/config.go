package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr        string
	JWTSecret   string
	JWTTTLMin   int
	DBDriver    string
	SQLITEDsn   string
	PostgresDSN string
	AutoMigrate bool
	OTPDigits   int
	OTPTTLSec   int
	// SendGrid config
	SendGridAPIKey string
	SendGridFrom   string
	// uploads
	UploadBackend   string
	UploadDir       string
	UploadBaseURL   string
	UploadMaxBytes  int64
	S3Bucket        string
	S3Region        string
	S3PublicBaseURL string
	// realtime
	TypingTTLSec   int
	WSEventsPerSec float64
	WSEventBurst   int
	// WSAllowedOrigins lists browser origins, beyond the server's own, that
	// may open the websocket.
	WSAllowedOrigins []string
	// logging
	LogLevel  string
	LogFormat string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// getlist splits a comma-separated value, dropping blanks.
func getlist(key string) []string {
	var out []string
	for _, v := range strings.Split(getenv(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func MustLoad() Config {
	maxBytes, err := strconv.ParseInt(getenv("UPLOAD_MAX_BYTES", ""), 10, 64)
	if err != nil {
		maxBytes = 25 << 20
	}
	eps, err := strconv.ParseFloat(getenv("WS_EVENTS_PER_SEC", ""), 64)
	if err != nil {
		eps = 20
	}

	cfg := Config{
		Addr:             getenv("HTTP_ADDR", ":8080"),
		JWTSecret:        getenv("JWT_SECRET", ""),
		JWTTTLMin:        getint("JWT_TTL_MIN", 1440),
		DBDriver:         strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		SQLITEDsn:        getenv("SQLITE_DSN", "file:chat.db?_pragma=foreign_keys(ON)"),
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		AutoMigrate:      getbool("AUTO_MIGRATE", true),
		OTPDigits:        getint("OTP_DIGITS", 6),
		OTPTTLSec:        getint("OTP_TTL_SEC", 300),
		SendGridAPIKey:   getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:     getenv("SENDGRID_FROM", ""),
		UploadBackend:    strings.ToLower(getenv("UPLOAD_BACKEND", "disk")),
		UploadDir:        getenv("UPLOAD_DIR", "uploads"),
		UploadBaseURL:    getenv("UPLOAD_BASE_URL", "http://localhost:8080/files"),
		UploadMaxBytes:   maxBytes,
		S3Bucket:         getenv("S3_BUCKET", ""),
		S3Region:         getenv("S3_REGION", ""),
		S3PublicBaseURL:  getenv("S3_PUBLIC_BASE_URL", ""),
		TypingTTLSec:     getint("TYPING_TTL_SEC", 6),
		WSEventsPerSec:   eps,
		WSEventBurst:     getint("WS_EVENT_BURST", 40),
		WSAllowedOrigins: getlist("WS_ALLOWED_ORIGINS"),
		LogLevel:         strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getenv("LOG_FORMAT", "text")),
	}
	return cfg
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be sqlite or postgres")
	}
	switch c.UploadBackend {
	case "disk":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when UPLOAD_BACKEND=s3")
		}
	default:
		return errors.New("UPLOAD_BACKEND must be disk or s3")
	}
	return nil
}
