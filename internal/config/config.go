package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/okralab/okra-server/internal/utils"
)

// Config carries everything the server reads from the environment.
// A .env file in the working directory is merged in first, real
// environment variables win.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// DBPath is the SQLite database file.
	DBPath string
	// SecretKey signs operator session tokens.
	SecretKey string

	// APIName and APIIconURL are shown to participants on the API
	// info endpoint.
	APIName    string
	APIIconURL string

	// APIHost restricts the Host header when set (e.g. "okra.example.org").
	APIHost string
	// AppURL and OkraURL are the allowed browser origins.
	AppURL  string
	OkraURL string
	// ScriptName mounts the whole server under a path prefix, for
	// deployments behind a reverse proxy (e.g. "/okra").
	ScriptName string

	// AdminUser and AdminPassword seed the operator account at startup.
	AdminUser     string
	AdminPassword string

	// LogLevel is a zap level name, "info" when empty.
	LogLevel string
}

// Load reads the configuration. The .env file is optional.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          utils.SafeEnv("OKRA_ADDR", ":8080"),
		DBPath:        utils.SafeEnv("OKRA_DB_PATH", "okra.db"),
		SecretKey:     os.Getenv("OKRA_SECRET_KEY"),
		APIName:       utils.SafeEnv("API_NAME", "Development API"),
		APIIconURL:    os.Getenv("API_ICON_URL"),
		APIHost:       os.Getenv("API_HOST"),
		AppURL:        os.Getenv("APP_URL"),
		OkraURL:       os.Getenv("OKRA_URL"),
		ScriptName:    normalizePrefix(os.Getenv("FORCE_SCRIPT_NAME")),
		AdminUser:     utils.SafeEnv("OKRA_ADMIN_USER", "admin"),
		AdminPassword: os.Getenv("OKRA_ADMIN_PASSWORD"),
		LogLevel:      utils.SafeEnv("LOG_LEVEL", "info"),
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("OKRA_SECRET_KEY must be set")
	}
	return cfg, nil
}

// BaseURL is the externally visible base of the participant API, used in
// registration payloads. Clients append endpoint paths like /register to it.
func (c *Config) BaseURL() string {
	if c.OkraURL != "" {
		return strings.TrimRight(c.OkraURL, "/") + c.ScriptName + "/api"
	}
	host := c.APIHost
	if host == "" {
		host = "localhost" + c.Addr
	}
	return "http://" + host + c.ScriptName + "/api"
}

// AllowedOrigins lists the origins CORS should accept. Empty means any.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, u := range []string{c.AppURL, c.OkraURL} {
		if u != "" {
			origins = append(origins, strings.TrimRight(u, "/"))
		}
	}
	return origins
}

func normalizePrefix(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
