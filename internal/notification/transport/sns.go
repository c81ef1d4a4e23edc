package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/common/validation"
	"notification-dispatch/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the subset of the SNS client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMS sends text messages to E.164 phone numbers.
type SNSSMS struct {
	client   SNSService
	senderID string
	logger   logger.Logger
}

func NewSNSSMS(client SNSService, senderID string, log logger.Logger) *SNSSMS {
	return &SNSSMS{
		client:   client,
		senderID: senderID,
		logger:   logger.Component(log, "sms-transport"),
	}
}

func (s *SNSSMS) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	if n.RecipientAddress == "" {
		return "", ErrMissingRecipient
	}
	if !validation.ValidatePhone(n.RecipientAddress) {
		return "", fmt.Errorf("recipient %q is not an E.164 phone number", n.RecipientAddress)
	}

	smsType := channel.ConfigString("sms_type")
	if smsType == "" {
		smsType = "Transactional"
	}
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType)},
	}
	senderID := channel.ConfigString("sender_id")
	if senderID == "" {
		senderID = s.senderID
	}
	if senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String(senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(n.RecipientAddress),
		Message:           aws.String(n.Content),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish sms: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// SNSPush publishes to a mobile platform endpoint ARN.
type SNSPush struct {
	client   SNSService
	platform string
	logger   logger.Logger
}

func NewSNSPush(client SNSService, platform string, log logger.Logger) *SNSPush {
	if platform == "" {
		platform = "GCM"
	}
	return &SNSPush{
		client:   client,
		platform: platform,
		logger:   logger.Component(log, "push-transport"),
	}
}

func (s *SNSPush) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	if n.RecipientAddress == "" {
		return "", ErrMissingRecipient
	}

	platform := channel.ConfigString("platform")
	if platform == "" {
		platform = s.platform
	}
	message, err := pushMessage(platform, n)
	if err != nil {
		return "", err
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(n.RecipientAddress),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish push: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// pushMessage builds the per-platform JSON envelope SNS expects when
// MessageStructure is "json".
func pushMessage(platform string, n *models.Notification) (string, error) {
	var payload interface{}
	switch platform {
	case "APNS", "APNS_SANDBOX":
		payload = map[string]interface{}{
			"aps": map[string]interface{}{
				"alert": map[string]string{"title": n.Subject, "body": n.Content},
			},
			"notificationId": n.ID,
		}
	default:
		payload = map[string]interface{}{
			"notification": map[string]string{"title": n.Subject, "body": n.Content},
			"data":         map[string]string{"notificationId": n.ID},
		}
	}

	inner, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal push payload: %w", err)
	}
	envelope, err := json.Marshal(map[string]string{
		"default": n.Content,
		platform:  string(inner),
	})
	if err != nil {
		return "", fmt.Errorf("marshal push envelope: %w", err)
	}
	return string(envelope), nil
}
