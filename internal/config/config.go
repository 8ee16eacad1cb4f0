package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	APIKey        string
	CVVPepper     string
	IssuerID      string
	IssuerName    string
	IdemRetention time.Duration
	PublicBaseURL string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("API_KEY environment variable is required")
	}

	pepper := os.Getenv("CVV_PEPPER")
	if pepper == "" {
		pepper = "dev-pepper-change-me"
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	issuerID := os.Getenv("ISSUER_ID")
	if issuerID == "" {
		issuerID = "VISA-EMISOR-LOCAL"
	}

	issuerName := os.Getenv("ISSUER_NAME")
	if issuerName == "" {
		issuerName = "VISA"
	}

	retention := 24 * time.Hour
	if raw := os.Getenv("IDEMPOTENCY_TTL_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be a positive integer, got %q", raw)
		}
		retention = time.Duration(hours) * time.Hour
	}

	baseURL := os.Getenv("PUBLIC_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	return &Config{
		DBSource:      dbSource,
		Port:          port,
		Env:           env,
		APIKey:        apiKey,
		CVVPepper:     pepper,
		IssuerID:      issuerID,
		IssuerName:    issuerName,
		IdemRetention: retention,
		PublicBaseURL: baseURL,
	}, nil
}
