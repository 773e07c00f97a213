package store

import (
	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
)

// ValidateBotConfig checks the required record fields. A failure here is
// per-slot: the caller skips the record and keeps loading.
func ValidateBotConfig(config BotConfig) error {
	if config.BotToken == "" {
		return errors.NewValidationError("bot record missing required field 'bot_token'", nil)
	}
	if config.Model == "" {
		return errors.NewValidationError("bot record missing required field 'model'", nil)
	}
	if config.Personality == "" {
		return errors.NewValidationError("bot record missing required field 'personality'", nil)
	}
	return nil
}

// normalizeBotConfig repairs out-of-range optional fields with a warning
// instead of rejecting the record.
func normalizeBotConfig(config BotConfig, slot int, logger logging.Logger) BotConfig {
	if config.MsgChance != nil && *config.MsgChance < 0 {
		logger.Warnf("Bot record has invalid msg_chance, using default, slot: %d, msg_chance: %d, default: %d",
			slot, *config.MsgChance, DefaultMsgChance)
		config.MsgChance = nil
	}
	if config.MaxTokens != nil && *config.MaxTokens <= 0 {
		logger.Warnf("Bot record has invalid max_tokens, using default, slot: %d, max_tokens: %d, default: %d",
			slot, *config.MaxTokens, DefaultMaxTokens)
		config.MaxTokens = nil
	}
	return config
}
