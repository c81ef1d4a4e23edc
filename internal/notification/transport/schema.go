package transport

import (
	"fmt"

	"notification-dispatch/internal/common/validation"
	"notification-dispatch/internal/models"
)

// Channel.Config is admin-entered JSON; each channel type accepts a fixed
// set of keys.
var configSchemas = map[models.ChannelType]*validation.Schema{
	models.ChannelEmail: validation.MustCompile("email-channel", `{
		"type": "object",
		"properties": {
			"from":     {"type": "string", "format": "email"},
			"reply_to": {"type": "string", "format": "email"},
			"provider": {"type": "string", "enum": ["ses", "smtp"]}
		},
		"additionalProperties": false
	}`),
	models.ChannelSMS: validation.MustCompile("sms-channel", `{
		"type": "object",
		"properties": {
			"sender_id": {"type": "string", "minLength": 1, "maxLength": 11},
			"sms_type":  {"type": "string", "enum": ["Transactional", "Promotional"]}
		},
		"additionalProperties": false
	}`),
	models.ChannelPush: validation.MustCompile("push-channel", `{
		"type": "object",
		"properties": {
			"platform": {"type": "string", "enum": ["GCM", "APNS", "APNS_SANDBOX"]}
		},
		"additionalProperties": false
	}`),
	models.ChannelWebhook: validation.MustCompile("webhook-channel", `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url":     {"type": "string", "pattern": "^https?://"},
			"secret":  {"type": "string", "minLength": 16},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}}
		},
		"additionalProperties": false
	}`),
	models.ChannelInApp: validation.MustCompile("in-app-channel", `{
		"type": "object",
		"properties": {
			"publish": {"type": "boolean"}
		},
		"additionalProperties": false
	}`),
}

// ValidateConfig checks channel.Config against its channel type's schema.
// Unknown channel types have no schema and pass.
func ValidateConfig(channel *models.Channel) error {
	schema, ok := configSchemas[channel.Type]
	if !ok {
		return nil
	}
	cfg := channel.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	if result := schema.Validate(cfg); !result.Valid {
		return fmt.Errorf("%w: channel %s: %s", ErrInvalidConfig, channel.Code, result.Error())
	}
	return nil
}
