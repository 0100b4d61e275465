package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Unocoin Client Configuration

[api]
# Use the live exchange instead of the sandbox
production = false
# Override the exchange URL (leave empty for the default)
base_url = ""
# Request timeout
timeout = "30s"
# Requests per second (0 disables throttling)
rate_limit = 2.0
burst = 4
# Consecutive network or server errors before requests fail fast
breaker_threshold = 5
breaker_cooldown = "30s"

[exchange]
fiat_currency = "INR"
crypto_currency = "BTC"
# How long a quote can be bought
quote_ttl = "15m"
# Lifetime of a quote after Expire(), for testing expiry handling
quote_qa_ttl = "3s"
# How long the rate card is reused
ticker_ttl = "60s"
# How often pending trades re-estimate their BTC amount
estimate_ttl = "1m"
# Smallest order in whole rupees
minimum_amount = 1000

[wallet]
# bbolt file holding the receive address pool
ledger_path = ""
# Addresses handed out to new trades, in order
receive_addresses = []

[store]
# SQLite file holding the session
path = ""
# Encrypt the session with account.store_passphrase
seal = false

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
file_path = ""
`

const credentialsTemplate = `# Unocoin Client Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[account]
user = ""
offline_token = ""
email = ""
email_verified = false
wallet_guid = ""
shared_key = ""
token_url = "https://blockchain.info/wallet/signed-token"
# Fixed email token, skips token_url
email_token = ""
store_passphrase = ""
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
