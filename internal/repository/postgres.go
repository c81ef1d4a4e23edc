package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements the store interfaces on PostgreSQL via lib/pq.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func queryFailed(op string, err error) error {
	return apperrors.NewDatabaseQueryFailedError(op, err)
}

// ==========================
// Catalog
// ==========================

const typeColumns = `id, code, name, category, priority, is_active, created_at, updated_at`

const channelColumns = `id, code, name, tenant_id, channel_type, config, is_active, created_at, updated_at`

const templateColumns = `id, code, notification_type_id, channel_id, tenant_id, language,
	subject_template, content_template, html_template, is_active, created_at, updated_at`

func scanNotificationType(row rowScanner) (*models.NotificationType, error) {
	var t models.NotificationType
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Priority, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	var (
		c        models.Channel
		tenantID sql.NullString
		config   []byte
	)
	err := row.Scan(&c.ID, &c.Code, &c.Name, &tenantID, &c.Type, &config, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		c.TenantID = &tenantID.String
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return nil, fmt.Errorf("decode channel %s config: %w", c.ID, err)
		}
	}
	return &c, nil
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t        models.Template
		tenantID sql.NullString
	)
	err := row.Scan(&t.ID, &t.Code, &t.NotificationTypeID, &t.ChannelID, &tenantID, &t.Language,
		&t.SubjectTemplate, &t.ContentTemplate, &t.HTMLTemplate, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		t.TenantID = &tenantID.String
	}
	return &t, nil
}

func (p *Postgres) GetNotificationTypeByCode(ctx context.Context, code string) (*models.NotificationType, error) {
	query := `SELECT ` + typeColumns + ` FROM notification_types WHERE code = $1 AND is_active = TRUE`

	t, err := scanNotificationType(p.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification type %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, queryFailed("get_notification_type", err)
	}
	return t, nil
}

func (p *Postgres) ListChannelsByCode(ctx context.Context, code, tenantID string) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM notification_channels
		WHERE code = $1 AND is_active = TRUE AND (tenant_id = $2 OR tenant_id IS NULL)`

	rows, err := p.db.QueryContext(ctx, query, code, tenantID)
	if err != nil {
		return nil, queryFailed("list_channels", err)
	}
	defer rows.Close()

	var out []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, queryFailed("list_channels", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("list_channels", err)
	}
	return out, nil
}

func (p *Postgres) ListTemplates(ctx context.Context, notificationTypeID, channelID, tenantID string) ([]*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_templates
		WHERE notification_type_id = $1 AND channel_id = $2 AND is_active = TRUE
		AND (tenant_id = $3 OR tenant_id IS NULL)
		ORDER BY code`

	rows, err := p.db.QueryContext(ctx, query, notificationTypeID, channelID, tenantID)
	if err != nil {
		return nil, queryFailed("list_templates", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, queryFailed("list_templates", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("list_templates", err)
	}
	return out, nil
}

func (p *Postgres) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM notification_channels WHERE id = $1`

	c, err := scanChannel(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, queryFailed("get_channel", err)
	}
	return c, nil
}

// ==========================
// Preferences
// ==========================

const preferenceColumns = `id, tenant_id, user_id, notification_type_id, email_enabled, sms_enabled,
	in_app_enabled, push_enabled, dnd_enabled, dnd_start, dnd_end, urgent_bypass_dnd, created_at, updated_at`

func scanPreference(row rowScanner) (*models.Preference, error) {
	var pref models.Preference
	err := row.Scan(&pref.ID, &pref.TenantID, &pref.UserID, &pref.NotificationTypeID,
		&pref.EmailEnabled, &pref.SMSEnabled, &pref.InAppEnabled, &pref.PushEnabled,
		&pref.DNDEnabled, &pref.DNDStart, &pref.DNDEnd, &pref.UrgentBypassDND,
		&pref.CreatedAt, &pref.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (p *Postgres) GetPreference(ctx context.Context, tenantID, userID, notificationTypeID string) (*models.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences
		WHERE tenant_id = $1 AND user_id = $2 AND notification_type_id = $3`

	pref, err := scanPreference(p.db.QueryRowContext(ctx, query, tenantID, userID, notificationTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: preference", ErrNotFound)
	}
	if err != nil {
		return nil, queryFailed("get_preference", err)
	}
	return pref, nil
}

// CreatePreferenceIfAbsent relies on the (tenant_id, user_id, notification_type_id)
// unique constraint: a losing concurrent insert is dropped and both callers
// read back the single committed row.
func (p *Postgres) CreatePreferenceIfAbsent(ctx context.Context, pref *models.Preference) (*models.Preference, error) {
	id := pref.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := p.now().UTC()

	query := `INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (tenant_id, user_id, notification_type_id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query,
		id, pref.TenantID, pref.UserID, pref.NotificationTypeID,
		pref.EmailEnabled, pref.SMSEnabled, pref.InAppEnabled, pref.PushEnabled,
		pref.DNDEnabled, pref.DNDStart, pref.DNDEnd, pref.UrgentBypassDND, now)
	if err != nil {
		return nil, queryFailed("create_preference", err)
	}

	return p.GetPreference(ctx, pref.TenantID, pref.UserID, pref.NotificationTypeID)
}

func (p *Postgres) UpdatePreference(ctx context.Context, pref *models.Preference) error {
	now := p.now().UTC()
	query := `UPDATE notification_preferences SET
		email_enabled = $4, sms_enabled = $5, in_app_enabled = $6, push_enabled = $7,
		dnd_enabled = $8, dnd_start = $9, dnd_end = $10, urgent_bypass_dnd = $11, updated_at = $12
		WHERE tenant_id = $1 AND user_id = $2 AND notification_type_id = $3
		RETURNING id, created_at`

	err := p.db.QueryRowContext(ctx, query,
		pref.TenantID, pref.UserID, pref.NotificationTypeID,
		pref.EmailEnabled, pref.SMSEnabled, pref.InAppEnabled, pref.PushEnabled,
		pref.DNDEnabled, pref.DNDStart, pref.DNDEnd, pref.UrgentBypassDND, now,
	).Scan(&pref.ID, &pref.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: preference", ErrNotFound)
	}
	if err != nil {
		return queryFailed("update_preference", err)
	}
	pref.UpdatedAt = now
	return nil
}

// ==========================
// Notifications
// ==========================

const notificationColumns = `id, tenant_id, user_id, notification_type_id, channel_id, template_id,
	subject, content, html_content, data, status, is_read, read_at, recipient_address,
	error_message, external_id, scheduled_at, sent_at, version, created_at, updated_at`

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n           models.Notification
		templateID  sql.NullString
		data        []byte
		readAt      sql.NullTime
		scheduledAt sql.NullTime
		sentAt      sql.NullTime
	)
	err := row.Scan(&n.ID, &n.TenantID, &n.UserID, &n.NotificationTypeID, &n.ChannelID, &templateID,
		&n.Subject, &n.Content, &n.HTMLContent, &data, &n.Status, &n.IsRead, &readAt, &n.RecipientAddress,
		&n.ErrorMessage, &n.ExternalID, &scheduledAt, &sentAt, &n.Version, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if templateID.Valid {
		n.TemplateID = &templateID.String
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification %s data: %w", n.ID, err)
		}
	}
	n.ReadAt = nullTimePtr(readAt)
	n.ScheduledAt = nullTimePtr(scheduledAt)
	n.SentAt = nullTimePtr(sentAt)
	return &n, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (p *Postgres) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}

	query := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = p.db.ExecContext(ctx, query,
		n.ID, n.TenantID, n.UserID, n.NotificationTypeID, n.ChannelID, n.TemplateID,
		n.Subject, n.Content, n.HTMLContent, dataJSON, n.Status, n.IsRead, n.ReadAt, n.RecipientAddress,
		n.ErrorMessage, n.ExternalID, n.ScheduledAt, n.SentAt, n.Version, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return queryFailed("create_notification", err)
	}
	return nil
}

func (p *Postgres) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	if err != nil {
		if isInvalidUUID(err) {
			return nil, fmt.Errorf("%w: notification %s", ErrNotFound, id)
		}
		return nil, queryFailed("get_notification", err)
	}
	return n, nil
}

// isInvalidUUID reports a malformed id, which can never match a row.
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func (p *Postgres) TransitionNotification(ctx context.Context, n *models.Notification, from models.Status) error {
	query := `UPDATE notifications SET
		status = $1, error_message = $2, external_id = $3, recipient_address = $4,
		sent_at = $5, updated_at = $6, version = version + 1
		WHERE id = $7 AND version = $8 AND status = $9`

	res, err := p.db.ExecContext(ctx, query,
		n.Status, n.ErrorMessage, n.ExternalID, n.RecipientAddress,
		n.SentAt, n.UpdatedAt, n.ID, n.Version, from)
	if err != nil {
		return queryFailed("transition_notification", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return queryFailed("transition_notification", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: notification %s", ErrVersionConflict, n.ID)
	}
	n.Version++
	return nil
}

func (p *Postgres) SetReadState(ctx context.Context, id string, read bool, at time.Time) (bool, error) {
	var query string
	if read {
		query = `UPDATE notifications SET is_read = TRUE, read_at = $2, updated_at = $2
			WHERE id = $1 AND is_read = FALSE`
	} else {
		query = `UPDATE notifications SET is_read = FALSE, read_at = NULL, updated_at = $2
			WHERE id = $1 AND is_read = TRUE`
	}

	res, err := p.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, queryFailed("set_read_state", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, queryFailed("set_read_state", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	err = p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, queryFailed("set_read_state", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	return false, nil
}

func (p *Postgres) MarkAllAsRead(ctx context.Context, tenantID, userID string, at time.Time) (int64, error) {
	query := `UPDATE notifications SET is_read = TRUE, read_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND user_id = $2 AND is_read = FALSE`

	res, err := p.db.ExecContext(ctx, query, tenantID, userID, at)
	if err != nil {
		return 0, queryFailed("mark_all_as_read", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, queryFailed("mark_all_as_read", err)
	}
	return affected, nil
}

func (p *Postgres) ListDue(ctx context.Context, now, orphanedBefore time.Time, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = 'pending'
		AND (scheduled_at <= $1 OR (scheduled_at IS NULL AND created_at < $2))
		ORDER BY COALESCE(scheduled_at, created_at)
		LIMIT $3`

	return p.queryNotifications(ctx, "list_due", query, now, orphanedBefore, limit)
}

func (p *Postgres) ListNotifications(ctx context.Context, tenantID, userID string, filter ListFilter) ([]*models.Notification, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + notificationColumns + ` FROM notifications WHERE tenant_id = $1 AND user_id = $2`)
	args := []interface{}{tenantID, userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.UnreadOnly {
		sb.WriteString(" AND is_read = FALSE")
	}
	args = append(args, filter.EffectiveLimit(), filter.Offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return p.queryNotifications(ctx, "list_notifications", sb.String(), args...)
}

func (p *Postgres) queryNotifications(ctx context.Context, op, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryFailed(op, err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, queryFailed(op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(op, err)
	}
	return out, nil
}

func (p *Postgres) CountUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_id = $1 AND user_id = $2 AND is_read = FALSE`,
		tenantID, userID,
	).Scan(&count)
	if err != nil {
		return 0, queryFailed("count_unread", err)
	}
	return count, nil
}

// ==========================
// Contacts
// ==========================

func (p *Postgres) GetContact(ctx context.Context, tenantID, userID string) (*models.Contact, error) {
	var c models.Contact
	err := p.db.QueryRowContext(ctx,
		`SELECT tenant_id, id, email, phone, push_endpoint FROM users WHERE tenant_id = $1 AND id = $2`,
		tenantID, userID,
	).Scan(&c.TenantID, &c.UserID, &c.Email, &c.Phone, &c.PushEndpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: contact %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, queryFailed("get_contact", err)
	}
	return &c, nil
}
