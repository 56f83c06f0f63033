// Package config handles configuration loading for famlogger-server.
//
// # Configuration File
//
// The file is located in this order:
//
//  1. Path from the FAMLOGGER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/famlogger/server.yaml (falling back to ~/.config)
//
// Files with a .toml extension are decoded as TOML; everything else is YAML.
// A missing file is not an error: the server can run from the environment alone.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//
// Unset variables expand to an empty string. After expansion, PORT,
// TELEGRAM_BOT_TOKEN and LOG_LEVEL fill server.http_addr, telegram.bot_token
// and logging.level when the file leaves them empty.
//
// # Durations
//
// Durations use Go syntax ("30s", "5m"). The cache query window is bounded by
// cache.retention, so lowering retention also lowers the largest window that can
// ever report a duplicate.
package config
