package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	mail "github.com/go-mail/mail/v2"
	"github.com/google/uuid"
)

// SESService is the subset of the SES client used here.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmail sends email through Amazon SES.
type SESEmail struct {
	client      SESService
	defaultFrom string
	logger      logger.Logger
}

func NewSESEmail(client SESService, defaultFrom string, log logger.Logger) *SESEmail {
	return &SESEmail{
		client:      client,
		defaultFrom: defaultFrom,
		logger:      logger.Component(log, "ses-transport"),
	}
}

func (s *SESEmail) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	if n.RecipientAddress == "" {
		return "", ErrMissingRecipient
	}

	body := &types.Body{Text: &types.Content{Data: aws.String(n.Content)}}
	if n.HTMLContent != "" {
		body.Html = &types.Content{Data: aws.String(n.HTMLContent)}
	}

	input := &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{n.RecipientAddress}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(n.Subject)},
			Body:    body,
		},
		Source: aws.String(senderFor(channel, s.defaultFrom)),
	}
	if replyTo := channel.ConfigString("reply_to"); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	s.logger.Debug("email accepted by SES", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      messageID,
	})
	return messageID, nil
}

// MailSender delivers composed messages. *mail.Dialer satisfies it.
type MailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPConfig configures SMTPEmail.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	UseTLS      bool
	DefaultFrom string
	Timeout     time.Duration
}

// NewSMTPDialer builds a go-mail dialer. With UseTLS the connection must
// upgrade through STARTTLS.
func NewSMTPDialer(cfg SMTPConfig) *mail.Dialer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	if cfg.UseTLS {
		d.StartTLSPolicy = mail.MandatoryStartTLS
		d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	return d
}

// SMTPEmail sends email through an SMTP relay. It is the email transport
// when SES is disabled.
type SMTPEmail struct {
	sender      MailSender
	host        string
	defaultFrom string
	logger      logger.Logger
}

func NewSMTPEmail(sender MailSender, cfg SMTPConfig, log logger.Logger) *SMTPEmail {
	return &SMTPEmail{
		sender:      sender,
		host:        cfg.Host,
		defaultFrom: cfg.DefaultFrom,
		logger:      logger.Component(log, "smtp-transport"),
	}
}

func (s *SMTPEmail) Send(ctx context.Context, n *models.Notification, channel *models.Channel) (string, error) {
	if n.RecipientAddress == "" {
		return "", ErrMissingRecipient
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled before sending email: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)

	m := mail.NewMessage()
	m.SetHeader("From", senderFor(channel, s.defaultFrom))
	m.SetHeader("To", n.RecipientAddress)
	m.SetHeader("Subject", n.Subject)
	m.SetHeader("Message-ID", messageID)
	if replyTo := channel.ConfigString("reply_to"); replyTo != "" {
		m.SetHeader("Reply-To", replyTo)
	}
	m.SetBody("text/plain", n.Content)
	if n.HTMLContent != "" {
		m.AddAlternative("text/html", n.HTMLContent)
	}

	if err := s.sender.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Debug("email relayed", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      messageID,
	})
	return messageID, nil
}

func senderFor(channel *models.Channel, fallback string) string {
	if from := channel.ConfigString("from"); from != "" {
		return from
	}
	return fallback
}
