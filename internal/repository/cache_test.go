package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCatalog records how often the backing store is hit.
type countingCatalog struct {
	Catalog
	typeCalls     atomic.Int32
	channelCalls  atomic.Int32
	templateCalls atomic.Int32
}

func (c *countingCatalog) GetNotificationTypeByCode(ctx context.Context, code string) (*models.NotificationType, error) {
	c.typeCalls.Add(1)
	return c.Catalog.GetNotificationTypeByCode(ctx, code)
}

func (c *countingCatalog) ListChannelsByCode(ctx context.Context, code, tenantID string) ([]*models.Channel, error) {
	c.channelCalls.Add(1)
	return c.Catalog.ListChannelsByCode(ctx, code, tenantID)
}

func (c *countingCatalog) ListTemplates(ctx context.Context, typeID, channelID, tenantID string) ([]*models.Template, error) {
	c.templateCalls.Add(1)
	return c.Catalog.ListTemplates(ctx, typeID, channelID, tenantID)
}

func seededCatalog() (*Memory, *models.NotificationType, *models.Channel) {
	mem := NewMemory()
	nt := mem.PutNotificationType(&models.NotificationType{
		Code: "account.password_reset", Name: "Password reset",
		Category: models.CategoryAccount, Priority: models.PriorityHigh, IsActive: true,
	})
	tenant := "tenant-1"
	ch := mem.PutChannel(&models.Channel{
		Code: "email", Name: "Tenant email", TenantID: &tenant, Type: models.ChannelEmail,
		Config: map[string]interface{}{"from": "t1@example.com"}, IsActive: true,
	})
	return mem, nt, ch
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem, _, _ := seededCatalog()
	backing := &countingCatalog{Catalog: mem}
	cache := NewCachedCatalog(backing, rdb, time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		nt, err := cache.GetNotificationTypeByCode(ctx, "account.password_reset")
		require.NoError(t, err)
		assert.Equal(t, models.PriorityHigh, nt.Priority)

		channels, err := cache.ListChannelsByCode(ctx, "email", "tenant-1")
		require.NoError(t, err)
		require.Len(t, channels, 1)
		assert.Equal(t, "t1@example.com", channels[0].ConfigString("from"))
		require.NotNil(t, channels[0].TenantID)
	}

	assert.Equal(t, int32(1), backing.typeCalls.Load())
	assert.Equal(t, int32(1), backing.channelCalls.Load())

	ttl := mr.TTL(cacheKeyPrefix + "type:account.password_reset")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	_, err := cache.GetNotificationTypeByCode(ctx, "account.password_reset")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backing.typeCalls.Load())
}

func TestCachedCatalog_EmptyResultsAreNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem, nt, ch := seededCatalog()
	backing := &countingCatalog{Catalog: mem}
	cache := NewCachedCatalog(backing, rdb, time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	templates, err := cache.ListTemplates(ctx, nt.ID, ch.ID, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, templates)

	mem.PutTemplate(&models.Template{
		Code: "reset", NotificationTypeID: nt.ID, ChannelID: ch.ID, Language: "en",
		SubjectTemplate: "Reset", ContentTemplate: "Hi {{name}}", IsActive: true,
	})

	templates, err = cache.ListTemplates(ctx, nt.ID, ch.ID, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, templates, 1)
	assert.Equal(t, int32(2), backing.templateCalls.Load())

	_, err = cache.GetNotificationTypeByCode(ctx, "does.not.exist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCachedCatalog_Invalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem, _, _ := seededCatalog()
	cache := NewCachedCatalog(mem, rdb, time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	_, err := cache.GetNotificationTypeByCode(ctx, "account.password_reset")
	require.NoError(t, err)
	_, err = cache.ListChannelsByCode(ctx, "email", "tenant-1")
	require.NoError(t, err)
	require.NoError(t, mr.Set("unrelated", "keep"))

	removed, err := cache.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.True(t, mr.Exists("unrelated"))
}

func TestCachedCatalog_ServesCachedChannelsUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := NewMemory()
	mem.PutChannel(&models.Channel{Code: "sms", Name: "System sms", Type: models.ChannelSMS, IsActive: true})
	cache := NewCachedCatalog(mem, rdb, time.Hour, logger.NewNoOpLogger())
	ctx := context.Background()

	channels, err := cache.ListChannelsByCode(ctx, "sms", "tenant-2")
	require.NoError(t, err)
	require.Len(t, channels, 1)

	tenant := "tenant-2"
	mem.PutChannel(&models.Channel{Code: "sms", Name: "Tenant sms", TenantID: &tenant, Type: models.ChannelSMS, IsActive: true})

	channels, err = cache.ListChannelsByCode(ctx, "sms", "tenant-2")
	require.NoError(t, err)
	assert.Len(t, channels, 1, "cached list is served until invalidated")

	_, err = cache.Invalidate(ctx)
	require.NoError(t, err)

	channels, err = cache.ListChannelsByCode(ctx, "sms", "tenant-2")
	require.NoError(t, err)
	assert.Len(t, channels, 2)
}

func TestCachedCatalog_RedisDownFallsThrough(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	mem, _, _ := seededCatalog()
	backing := &countingCatalog{Catalog: mem}
	cache := NewCachedCatalog(backing, rdb, time.Minute, logger.NewNoOpLogger())

	mock.ExpectGet(cacheKeyPrefix + "type:account.password_reset").SetErr(errors.New("connection refused"))

	nt, err := cache.GetNotificationTypeByCode(context.Background(), "account.password_reset")
	require.NoError(t, err)
	assert.Equal(t, "account.password_reset", nt.Code)
	assert.Equal(t, int32(1), backing.typeCalls.Load())
}
