package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// RPC URLs frequently embed provider API keys.
	redact(&out.Chain.RPCURL)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Venues = append([]VenueConfig(nil), cfg.Venues...)
	out.Tokens = append([]TokenConfig(nil), cfg.Tokens...)
	out.Pairs = append([]PairConfig(nil), cfg.Pairs...)
	out.Paper.Pools = append([]PoolConfig(nil), cfg.Paper.Pools...)
	out.Relay.URLs = append([]string(nil), cfg.Relay.URLs...)
	out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	if cfg.Price.ChainlinkFeeds != nil {
		out.Price.ChainlinkFeeds = maps.Clone(cfg.Price.ChainlinkFeeds)
	}
	if cfg.Price.Static != nil {
		out.Price.Static = maps.Clone(cfg.Price.Static)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
