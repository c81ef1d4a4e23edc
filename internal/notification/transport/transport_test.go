package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	commonhttp "notification-dispatch/internal/common/http"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	mail "github.com/go-mail/mail/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock AWS Services
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-msg")}, nil
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-msg")}, nil
}

type recordingSender struct {
	messages []*mail.Message
	err      error
}

func (r *recordingSender) DialAndSend(m ...*mail.Message) error {
	r.messages = append(r.messages, m...)
	return r.err
}

// ==========================
// Test Helpers
// ==========================

func createTestNotification(recipient string) *models.Notification {
	return &models.Notification{
		ID:                 "n-1",
		TenantID:           "t1",
		UserID:             "u1",
		NotificationTypeID: "type-1",
		Subject:            "Reset your password",
		Content:            "Use code 1234",
		HTMLContent:        "<p>Use code <b>1234</b></p>",
		Data:               map[string]interface{}{"code": "1234"},
		Status:             models.StatusSending,
		RecipientAddress:   recipient,
		CreatedAt:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func createTestChannel(ct models.ChannelType, cfg map[string]interface{}) *models.Channel {
	return &models.Channel{ID: "ch-1", Code: string(ct), Type: ct, Config: cfg, IsActive: true}
}

// ==========================
// Registry
// ==========================

func TestRegistry_Send(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(models.ChannelInApp, Func(func(ctx context.Context, n *models.Notification, ch *models.Channel) (string, error) {
		called = true
		return "ok", nil
	}))

	id, err := reg.Send(context.Background(), createTestNotification("u1"), createTestChannel(models.ChannelInApp, nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", id)
	assert.True(t, called)

	_, err = reg.Send(context.Background(), createTestNotification("+15550001111"), createTestChannel(models.ChannelSMS, nil))
	assert.True(t, errors.Is(err, ErrNoTransport))
	assert.ElementsMatch(t, []models.ChannelType{models.ChannelInApp}, reg.Types())
}

func TestRegistry_RejectsInvalidConfig(t *testing.T) {
	reg := NewRegistry()
	reg.Register(models.ChannelWebhook, Func(func(ctx context.Context, n *models.Notification, ch *models.Channel) (string, error) {
		t.Fatal("transport must not be called with invalid config")
		return "", nil
	}))

	_, err := reg.Send(context.Background(), createTestNotification(""), createTestChannel(models.ChannelWebhook, map[string]interface{}{}))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		channel *models.Channel
		valid   bool
	}{
		{"email empty", createTestChannel(models.ChannelEmail, nil), true},
		{"email from", createTestChannel(models.ChannelEmail, map[string]interface{}{"from": "ops@example.com"}), true},
		{"email unknown key", createTestChannel(models.ChannelEmail, map[string]interface{}{"smtp": "x"}), false},
		{"sms sender too long", createTestChannel(models.ChannelSMS, map[string]interface{}{"sender_id": "ABCDEFGHIJKLMNOP"}), false},
		{"sms type", createTestChannel(models.ChannelSMS, map[string]interface{}{"sms_type": "Promotional"}), true},
		{"push platform", createTestChannel(models.ChannelPush, map[string]interface{}{"platform": "APNS"}), true},
		{"push bad platform", createTestChannel(models.ChannelPush, map[string]interface{}{"platform": "WNS"}), false},
		{"webhook url", createTestChannel(models.ChannelWebhook, map[string]interface{}{"url": "https://hooks.example.com/n"}), true},
		{"webhook not http", createTestChannel(models.ChannelWebhook, map[string]interface{}{"url": "ftp://x"}), false},
		{"webhook short secret", createTestChannel(models.ChannelWebhook, map[string]interface{}{"url": "https://x.test", "secret": "short"}), false},
		{"in app", createTestChannel(models.ChannelInApp, map[string]interface{}{"publish": false}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.channel)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidConfig))
			}
		})
	}
}

// ==========================
// Email
// ==========================

func TestSESEmail_Send(t *testing.T) {
	var captured *ses.SendEmailInput
	svc := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			captured = params
			return &ses.SendEmailOutput{MessageId: aws.String("0100018e-abc")}, nil
		},
	}
	tr := NewSESEmail(svc, "noreply@example.com", logger.NewNoOpLogger())

	id, err := tr.Send(context.Background(), createTestNotification("ada@example.com"),
		createTestChannel(models.ChannelEmail, map[string]interface{}{"from": "t1@example.com", "reply_to": "help@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "0100018e-abc", id)

	require.NotNil(t, captured)
	assert.Equal(t, []string{"ada@example.com"}, captured.Destination.ToAddresses)
	assert.Equal(t, "t1@example.com", aws.ToString(captured.Source))
	assert.Equal(t, []string{"help@example.com"}, captured.ReplyToAddresses)
	assert.Equal(t, "Reset your password", aws.ToString(captured.Message.Subject.Data))
	assert.Equal(t, "Use code 1234", aws.ToString(captured.Message.Body.Text.Data))
	assert.Contains(t, aws.ToString(captured.Message.Body.Html.Data), "<b>1234</b>")
}

func TestSESEmail_Errors(t *testing.T) {
	svc := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("MessageRejected: Email address is not verified")
		},
	}
	tr := NewSESEmail(svc, "noreply@example.com", logger.NewNoOpLogger())
	ch := createTestChannel(models.ChannelEmail, nil)

	_, err := tr.Send(context.Background(), createTestNotification(""), ch)
	assert.True(t, errors.Is(err, ErrMissingRecipient))

	_, err = tr.Send(context.Background(), createTestNotification("ada@example.com"), ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageRejected")
}

func TestSMTPEmail_Send(t *testing.T) {
	sender := &recordingSender{}
	tr := NewSMTPEmail(sender, SMTPConfig{Host: "smtp.example.com", DefaultFrom: "noreply@example.com"}, logger.NewNoOpLogger())

	id, err := tr.Send(context.Background(), createTestNotification("ada@example.com"), createTestChannel(models.ChannelEmail, nil))
	require.NoError(t, err)
	assert.Contains(t, id, "@smtp.example.com>")

	require.Len(t, sender.messages, 1)
	m := sender.messages[0]
	assert.Equal(t, []string{"noreply@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"ada@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{id}, m.GetHeader("Message-ID"))

	sender.err = errors.New("535 authentication failed")
	_, err = tr.Send(context.Background(), createTestNotification("ada@example.com"), createTestChannel(models.ChannelEmail, nil))
	assert.Error(t, err)
}

func TestNewSMTPDialer(t *testing.T) {
	d := NewSMTPDialer(SMTPConfig{Host: "smtp.example.com", Port: 587, UseTLS: true, Timeout: 5 * time.Second})

	assert.Equal(t, "smtp.example.com", d.Host)
	assert.Equal(t, 587, d.Port)
	assert.Equal(t, mail.MandatoryStartTLS, d.StartTLSPolicy)
	require.NotNil(t, d.TLSConfig)
	assert.Equal(t, "smtp.example.com", d.TLSConfig.ServerName)
	assert.Equal(t, 5*time.Second, d.Timeout)
}

// ==========================
// SNS
// ==========================

func TestSNSSMS_Send(t *testing.T) {
	var captured *sns.PublishInput
	svc := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
		},
	}
	tr := NewSNSSMS(svc, "ACME", logger.NewNoOpLogger())

	id, err := tr.Send(context.Background(), createTestNotification("+15550001111"), createTestChannel(models.ChannelSMS, nil))
	require.NoError(t, err)
	assert.Equal(t, "sms-1", id)
	assert.Equal(t, "+15550001111", aws.ToString(captured.PhoneNumber))
	assert.Equal(t, "Use code 1234", aws.ToString(captured.Message))
	assert.Equal(t, "ACME", aws.ToString(captured.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
	assert.Equal(t, "Transactional", aws.ToString(captured.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))

	_, err = tr.Send(context.Background(), createTestNotification("555-0001"), createTestChannel(models.ChannelSMS, nil))
	assert.Error(t, err)
}

func TestSNSPush_Send(t *testing.T) {
	const arn = "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/abc"
	var captured *sns.PublishInput
	svc := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("push-1")}, nil
		},
	}
	tr := NewSNSPush(svc, "", logger.NewNoOpLogger())

	id, err := tr.Send(context.Background(), createTestNotification(arn), createTestChannel(models.ChannelPush, nil))
	require.NoError(t, err)
	assert.Equal(t, "push-1", id)
	assert.Equal(t, arn, aws.ToString(captured.TargetArn))
	assert.Equal(t, "json", aws.ToString(captured.MessageStructure))

	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &envelope))
	assert.Equal(t, "Use code 1234", envelope["default"])
	assert.Contains(t, envelope["GCM"], `"title":"Reset your password"`)

	_, err = tr.Send(context.Background(), createTestNotification(arn),
		createTestChannel(models.ChannelPush, map[string]interface{}{"platform": "APNS"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &envelope))
	assert.Contains(t, envelope["APNS"], `"aps"`)
}

// ==========================
// Webhook
// ==========================

func TestWebhook_Send(t *testing.T) {
	const secret = "0123456789abcdef0123"
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"hook-42"}`))
	}))
	defer srv.Close()

	tr := NewWebhook(commonhttp.NewClient(5*time.Second), logger.NewNoOpLogger())
	ch := createTestChannel(models.ChannelWebhook, map[string]interface{}{
		"url":     srv.URL,
		"secret":  secret,
		"headers": map[string]interface{}{"X-Tenant": "t1"},
	})

	id, err := tr.Send(context.Background(), createTestNotification(""), ch)
	require.NoError(t, err)
	assert.Equal(t, "hook-42", id)

	assert.Equal(t, "t1", gotHeader.Get("X-Tenant"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "sha256="+Sign(secret, gotBody), gotHeader.Get(SignatureHeader))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "n-1", payload.NotificationID)
	assert.Equal(t, "1234", payload.Data["code"])
}

func TestWebhook_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	tr := NewWebhook(commonhttp.NewClient(5*time.Second), logger.NewNoOpLogger())
	_, err := tr.Send(context.Background(), createTestNotification(srv.URL), createTestChannel(models.ChannelWebhook, nil))
	require.Error(t, err)

	var statusErr *commonhttp.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

// ==========================
// In-app
// ==========================

func TestInApp_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, InAppTopic("t1", "u1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	tr := NewInApp(rdb, logger.NewNoOpLogger())
	id, err := tr.Send(ctx, createTestNotification("u1"), createTestChannel(models.ChannelInApp, nil))
	require.NoError(t, err)
	assert.Equal(t, "n-1", id)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"notificationId":"n-1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no in-app event published")
	}
}

func TestInApp_WithoutRedis(t *testing.T) {
	tr := NewInApp(nil, logger.NewNoOpLogger())
	id, err := tr.Send(context.Background(), createTestNotification("u1"), createTestChannel(models.ChannelInApp, nil))
	require.NoError(t, err)
	assert.Equal(t, "n-1", id)
}
