package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// requiredSettings lists the settings each channel family cannot start
// without. The adapters re-check these on Initialize; validating here
// surfaces every problem in one pass instead of one per startup.
var requiredSettings = map[string][]string{
	"wsgateway":  {"app_id", "app_secret"},
	"cryptohook": {"token", "encoding_aes_key", "corp_id", "corp_secret", "agent_id"},
	"longpoll":   {"bot_token"},
	"mailbox":    {"username", "password", "imap_host", "smtp_host"},
}

// ValidateBotToken validates a long-poll bot token. Tokens have the
// form <bot_id>:<secret>.
func (v *Validator) ValidateBotToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token cannot be empty")
	}
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid bot token format")
	}
	return nil
}

// ValidateEncodingAESKey validates a callback AES key, which must be
// exactly 43 base64 characters.
func (v *Validator) ValidateEncodingAESKey(key string) error {
	if len(key) != 43 {
		return fmt.Errorf("encoding_aes_key must be 43 characters, got %d", len(key))
	}
	pattern := regexp.MustCompile(`^[A-Za-z0-9+/]+$`)
	if !pattern.MatchString(key) {
		return fmt.Errorf("encoding_aes_key contains invalid characters")
	}
	return nil
}

// ValidateListenAddr validates a host:port listen address.
func (v *Validator) ValidateListenAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateLogLevel validates a log level.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and returns every
// problem found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for name, section := range cfg.sections() {
		if !section.Enabled {
			continue
		}
		for _, field := range requiredSettings[name] {
			val, ok := section.Settings[field]
			s, isString := val.(string)
			if !ok || (isString && s == "") {
				errors = append(errors, fmt.Errorf("channel %s: setting %s is required", name, field))
			}
		}
	}

	if cfg.Channels.LongPoll.Enabled {
		if token, _ := cfg.Channels.LongPoll.Settings["bot_token"].(string); token != "" {
			if err := v.ValidateBotToken(token); err != nil {
				errors = append(errors, fmt.Errorf("channel longpoll: %w", err))
			}
		}
	}

	if cfg.Channels.CryptoHook.Enabled {
		if key, _ := cfg.Channels.CryptoHook.Settings["encoding_aes_key"].(string); key != "" {
			if err := v.ValidateEncodingAESKey(key); err != nil {
				errors = append(errors, fmt.Errorf("channel cryptohook: %w", err))
			}
		}
	}

	if cfg.Session.TimeoutMinutes < 0 {
		errors = append(errors, fmt.Errorf("session.timeout_minutes must be >= 0"))
	}
	if cfg.Session.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("session.max_concurrent must be >= 0"))
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateListenAddr(cfg.Metrics.ListenAddr); err != nil {
			errors = append(errors, fmt.Errorf("metrics: %w", err))
		}
	}

	if cfg.Logging.Level != "" {
		if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
