// Package config reads connection parameters from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MissingError lists required variables that were not set
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Vars, ", "))
}

// Server holds the backing service settings
type Server struct {
	Port              string
	DatabasePath      string
	APIKey            string
	ProjectID         string
	SessionTTL        time.Duration
	AuthRatePerMinute int
}

// Client holds the parameters the chat client needs to reach the backend
type Client struct {
	APIURL    string
	APIKey    string
	ProjectID string
}

// LoadServer reads the server settings. DMCHAT_API_KEY and
// DMCHAT_PROJECT_ID are required.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:              getenv("PORT", "8080"),
		DatabasePath:      getenv("DATABASE_PATH", "dmchat.db"),
		APIKey:            os.Getenv("DMCHAT_API_KEY"),
		ProjectID:         os.Getenv("DMCHAT_PROJECT_ID"),
		SessionTTL:        7 * 24 * time.Hour,
		AuthRatePerMinute: 30,
	}

	if err := required(map[string]string{
		"DMCHAT_API_KEY":    cfg.APIKey,
		"DMCHAT_PROJECT_ID": cfg.ProjectID,
	}); err != nil {
		return nil, err
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("invalid SESSION_TTL %q", v)
		}
		cfg.SessionTTL = ttl
	}

	if v := os.Getenv("AUTH_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid AUTH_RATE_PER_MINUTE %q", v)
		}
		cfg.AuthRatePerMinute = n
	}

	return cfg, nil
}

// LoadClient reads the client connection parameters. All of them are required.
func LoadClient() (*Client, error) {
	cfg := &Client{
		APIURL:    strings.TrimRight(os.Getenv("DMCHAT_API_URL"), "/"),
		APIKey:    os.Getenv("DMCHAT_API_KEY"),
		ProjectID: os.Getenv("DMCHAT_PROJECT_ID"),
	}

	if err := required(map[string]string{
		"DMCHAT_API_URL":    cfg.APIURL,
		"DMCHAT_API_KEY":    cfg.APIKey,
		"DMCHAT_PROJECT_ID": cfg.ProjectID,
	}); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.APIURL, "http://") && !strings.HasPrefix(cfg.APIURL, "https://") {
		return nil, fmt.Errorf("invalid DMCHAT_API_URL %q: must start with http:// or https://", cfg.APIURL)
	}
	return cfg, nil
}

func required(vars map[string]string) error {
	var missing []string
	for _, name := range []string{"DMCHAT_API_URL", "DMCHAT_API_KEY", "DMCHAT_PROJECT_ID"} {
		if v, ok := vars[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
