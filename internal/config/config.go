package config

import "os"

type Config struct {
	// PlatformURL is the base URL of the exam platform's session API.
	PlatformURL string
	// AuthToken is the bearer token attached to every API call. Empty means
	// the client will request a guest token first.
	AuthToken string

	// Local state store (active session id + flushed-answer cache).
	DBDriver string // sqlite | postgres
	DBDSN    string

	// Offline practice platform.
	LocalMode  bool   // run the bundled platform in-process
	LocalAddr  string // listen address for the bundled platform
	AuthSecret string // HMAC secret for guest tokens

	CORSOrigins []string
}

func FromEnv() Config {
	return Config{
		PlatformURL: envOr("PLATFORM_URL", "http://localhost:8090"),
		AuthToken:   os.Getenv("PLATFORM_TOKEN"),
		DBDriver:    envOr("DB_DRIVER", "sqlite"),
		DBDSN:       envOr("DB_DSN", ""),
		LocalMode:   envBool("LOCAL_MODE", false),
		LocalAddr:   envOr("LOCAL_ADDR", "127.0.0.1:8090"),
		AuthSecret:  envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		CORSOrigins: []string{envOr("CORS_ORIGIN", "http://localhost:3000")},
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
