package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Ticker Sentry Configuration

[provider]
# Market-data provider base URL
base_url = "https://api.tiingo.com/tiingo"
# Bar frequency: "daily", "1hour", "5min"
frequency = "5min"
# HTTP timeout for provider requests
timeout = "30s"

[limits]
# Provider request budget per hour
hourly_limit = 50
# Provider request budget per day
daily_limit = 500
# Requests held back below each limit
safety_margin = 5

[watch]
# Maximum due tasks loaded per sweep
batch_limit = 200
# Interval between sweeps in daemon mode
sweep_interval = "15m"

[positions]
# Adverse-move alert threshold as a fraction (0.05 = 5%)
adverse_threshold_pct = 0.05
# Interval between position checks in daemon mode
check_interval = "1h"

[store]
# SQLite database path; defaults to <config dir>/sentry.db
path = ""

[logging]
# Log level: debug, info, warn, error
level = "info"
# Log to stdout
console = true
# Log to a rotated file
file = true
# Log file path; defaults to <config dir>/logs/sentry.log
file_path = ""

[notifications]
# Enable notifications
enabled = false
# Notification level: all, alerts_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# Ticker Sentry Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[provider]
api_key = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
