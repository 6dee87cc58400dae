package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Portfolio State Service Configuration

[service]
# Execution mode the fills come from: "live" or "paper"
mode = "paper"
# Starting capital in INR, used when no checkpoint exists
starting_capital = 100000.0
# Fills buffered between the bus and the ledger
queue_size = 1024
# Exchange timezone used to label trading days
timezone = "Asia/Kolkata"

[checkpoint]
# Directory for portfolio_state.json (relative paths are under the config dir)
dir = "state"
# Save after this many applied fills
every_fills = 10
# Also save on this interval when there are unsaved fills ("0s" disables)
interval = "30s"
# Upper bound for a single checkpoint write
timeout = "5s"
# Alert after this many consecutive failed saves
max_consecutive_failures = 5
# Archived checkpoints kept per mode
history_limit = 100

[bus]
# Events retained per topic for late subscribers
history_size = 1000

[ledger]
# Fill ids remembered for duplicate detection
dedup_capacity = 10000

[feed]
# WebSocket URL of the execution pipeline, e.g. "ws://localhost:8080/fills"
url = ""
# Consecutive failed connection attempts before giving up
max_reconnect_attempts = 10
initial_backoff = "500ms"
max_backoff = "30s"
ping_interval = "20s"

[store]
# SQLite database for checkpoint history and the fill journal
path = "state/history.db"
# Journal every applied fill
journal = true

[alerts]
# Print checkpoint failure alerts to the terminal running the service
terminal = true
bell = true
# POST alerts as JSON to this URL when set
webhook_url = ""
webhook_timeout = "10s"

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
# Rotation: size in MB, backups kept, age in days
max_size = 100
max_backups = 7
max_age = 30

[ui]
# Enable colored output
color_enabled = true
# Time format
time_format = "02-Jan-2006 15:04:05"
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
