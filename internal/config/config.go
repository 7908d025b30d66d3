package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration. Every field maps to one environment
// variable; a .env file in the working directory is loaded first when present.
type Config struct {
	APIID   int
	APIHash string

	// BotToken authorises the writer session. Empty means the writer only
	// connects without logging in.
	BotToken string

	DatabasePath string
	SessionsDir  string

	// NotifyChatID receives operator notifications. Zero disables them.
	NotifyChatID int64

	MonitorIntervalSeconds int
	StandbyRefreshSeconds  int
	RecoveryMaxRetry       int

	PanelListenAddr       string
	PanelPassword         string
	PanelSessionTTLSecond int

	// AppImage is the container image reference this process runs as,
	// used by the update checker. Empty disables update checks.
	AppImage                 string
	UpdateNotifyEnabled      bool
	UpdateHTTPTimeoutSeconds int
	WatchtowerURL            string
	WatchtowerHTTPToken      string
}

// Load builds a Config from the environment. A missing .env file is not an
// error. Load fails when PANEL_PASSWORD is empty: the control panel must
// never come up unauthenticated.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:             "data/telegram_auto_clone.db",
		SessionsDir:              "sessions",
		MonitorIntervalSeconds:   60,
		StandbyRefreshSeconds:    120,
		RecoveryMaxRetry:         3,
		PanelListenAddr:          ":8080",
		PanelSessionTTLSecond:    86400,
		UpdateNotifyEnabled:      true,
		UpdateHTTPTimeoutSeconds: 15,
	}

	envInt(&cfg.APIID, "API_ID")
	envStr(&cfg.APIHash, "API_HASH")
	envStr(&cfg.BotToken, "BOT_TOKEN")
	envStr(&cfg.DatabasePath, "DATABASE_PATH")
	envStr(&cfg.SessionsDir, "SESSIONS_DIR")
	envInt64(&cfg.NotifyChatID, "NOTIFY_CHAT_ID")
	envInt(&cfg.MonitorIntervalSeconds, "MONITOR_INTERVAL_SECONDS")
	envInt(&cfg.StandbyRefreshSeconds, "STANDBY_REFRESH_SECONDS")
	envInt(&cfg.RecoveryMaxRetry, "RECOVERY_MAX_RETRY")
	envStr(&cfg.PanelListenAddr, "PANEL_LISTEN_ADDR")
	envStr(&cfg.PanelPassword, "PANEL_PASSWORD")
	envInt(&cfg.PanelSessionTTLSecond, "PANEL_SESSION_TTL_SECONDS")
	envStr(&cfg.AppImage, "APP_IMAGE")
	envBool(&cfg.UpdateNotifyEnabled, "UPDATE_NOTIFY_ENABLED")
	envInt(&cfg.UpdateHTTPTimeoutSeconds, "UPDATE_HTTP_TIMEOUT_SECONDS")
	envStr(&cfg.WatchtowerURL, "WATCHTOWER_URL")
	envStr(&cfg.WatchtowerHTTPToken, "WATCHTOWER_HTTP_TOKEN")

	if cfg.PanelPassword == "" {
		return nil, fmt.Errorf("PANEL_PASSWORD is required and must not be empty")
	}
	return cfg, nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
