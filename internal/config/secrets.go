package config

import (
	"fmt"

	"github.com/alanyoungcy/tradeagent/internal/crypto"
)

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Exchange
	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.Exchange.SecretPassword)

	// Signal
	out.Signal.APIKeys = make([]string, len(cfg.Signal.APIKeys))
	for i := range out.Signal.APIKeys {
		out.Signal.APIKeys[i] = redacted
	}
	redact(&out.Signal.KeyPassword)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Server
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

// ExchangeSecret resolves the venue API secret, decrypting the on-disk file
// when no plain value is set.
func (c *Config) ExchangeSecret() (string, error) {
	s, err := crypto.LoadSecret(crypto.SecretSource{
		Value:         c.Exchange.APISecret,
		EncryptedPath: c.Exchange.EncryptedSecretPath,
		Password:      c.Exchange.SecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: exchange secret: %w", err)
	}
	return s, nil
}

// SignalKeys returns the advisory credential pool: the configured keys plus
// the decrypted key file, if any.
func (c *Config) SignalKeys() ([]string, error) {
	keys := append([]string(nil), c.Signal.APIKeys...)
	if c.Signal.EncryptedKeyPath == "" {
		return keys, nil
	}
	k, err := crypto.LoadSecret(crypto.SecretSource{
		EncryptedPath: c.Signal.EncryptedKeyPath,
		Password:      c.Signal.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("config: signal key: %w", err)
	}
	for _, existing := range keys {
		if existing == k {
			return keys, nil
		}
	}
	return append(keys, k), nil
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
