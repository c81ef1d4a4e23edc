package preference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 1, hour, minute, 0, 0, time.UTC)
}

func dndPreference(start, end models.TimeOfDay) *models.Preference {
	p := models.DefaultPreference("t1", "u1", "type-1")
	p.DNDEnabled = true
	p.DNDStart = start
	p.DNDEnd = end
	return p
}

func TestInDoNotDisturbWindow(t *testing.T) {
	tests := []struct {
		name     string
		start    models.TimeOfDay
		end      models.TimeOfDay
		now      time.Time
		expected bool
	}{
		{"same day inside", models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(17, 0, 0), at(12, 0), true},
		{"same day at start", models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(17, 0, 0), at(9, 0), true},
		{"same day at end", models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(17, 0, 0), at(17, 0), false},
		{"same day before", models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(17, 0, 0), at(8, 59), false},
		{"wrapping late evening", models.NewTimeOfDay(22, 0, 0), models.NewTimeOfDay(8, 0, 0), at(23, 0), true},
		{"wrapping early morning", models.NewTimeOfDay(22, 0, 0), models.NewTimeOfDay(8, 0, 0), at(3, 0), true},
		{"wrapping at end", models.NewTimeOfDay(22, 0, 0), models.NewTimeOfDay(8, 0, 0), at(8, 0), false},
		{"wrapping midday", models.NewTimeOfDay(22, 0, 0), models.NewTimeOfDay(8, 0, 0), at(12, 0), false},
		{"zero length at midnight", models.NewTimeOfDay(0, 0, 0), models.NewTimeOfDay(0, 0, 0), at(0, 0), false},
		{"zero length midday", models.NewTimeOfDay(12, 0, 0), models.NewTimeOfDay(12, 0, 0), at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := dndPreference(tt.start, tt.end)
			assert.Equal(t, tt.expected, InDoNotDisturbWindow(p, tt.now))
		})
	}
}

func TestInDoNotDisturbWindow_Disabled(t *testing.T) {
	p := dndPreference(models.NewTimeOfDay(0, 0, 0), models.NewTimeOfDay(23, 59, 59))
	p.DNDEnabled = false
	assert.False(t, InDoNotDisturbWindow(p, at(12, 0)))
}

func TestResolver_IsInDoNotDisturbWindow_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := NewResolver(repository.NewMemory(), loc, logger.NewNoOpLogger())
	p := dndPreference(models.NewTimeOfDay(22, 0, 0), models.NewTimeOfDay(8, 0, 0))

	// 21:00 UTC is 23:00 local.
	assert.True(t, r.IsInDoNotDisturbWindow(p, at(21, 0)))
	// 07:00 UTC is 09:00 local.
	assert.False(t, r.IsInDoNotDisturbWindow(p, at(7, 0)))
}

func TestIsChannelEnabled(t *testing.T) {
	p := models.DefaultPreference("t1", "u1", "type-1")

	assert.True(t, IsChannelEnabled(p, models.ChannelEmail))
	assert.False(t, IsChannelEnabled(p, models.ChannelSMS))
	assert.True(t, IsChannelEnabled(p, models.ChannelInApp))
	assert.False(t, IsChannelEnabled(p, models.ChannelPush))
	assert.True(t, IsChannelEnabled(p, models.ChannelWebhook))
	assert.False(t, IsChannelEnabled(p, models.ChannelType("carrier_pigeon")))
}

func TestResolver_Resolve_CreatesDefaultOnce(t *testing.T) {
	store := repository.NewMemory()
	r := NewResolver(store, nil, logger.NewTestLogger(t))
	ctx := context.Background()

	const callers = 25
	var wg sync.WaitGroup
	results := make([]*models.Preference, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Resolve(ctx, "t1", "u1", "type-1")
			require.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.PreferenceCount())
	for _, p := range results {
		assert.Equal(t, results[0].ID, p.ID)
		assert.True(t, p.EmailEnabled)
		assert.False(t, p.SMSEnabled)
		assert.True(t, p.InAppEnabled)
		assert.False(t, p.PushEnabled)
		assert.False(t, p.DNDEnabled)
		assert.True(t, p.UrgentBypassDND)
	}
}

type failingStore struct {
	repository.PreferenceStore
	err error
}

func (f failingStore) GetPreference(ctx context.Context, tenantID, userID, typeID string) (*models.Preference, error) {
	return nil, f.err
}

func TestResolver_Resolve_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewResolver(failingStore{err: boom}, nil, logger.NewNoOpLogger())

	_, err := r.Resolve(context.Background(), "t1", "u1", "type-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestResolver_Update(t *testing.T) {
	store := repository.NewMemory()
	r := NewResolver(store, nil, logger.NewNoOpLogger())
	ctx := context.Background()

	p := models.DefaultPreference("t1", "u1", "type-1")
	p.EmailEnabled = false
	p.DNDEnabled = true
	require.NoError(t, r.Update(ctx, p))
	assert.NotEmpty(t, p.ID)

	stored, err := r.Resolve(ctx, "t1", "u1", "type-1")
	require.NoError(t, err)
	assert.False(t, stored.EmailEnabled)
	assert.True(t, stored.DNDEnabled)
	assert.Equal(t, 1, store.PreferenceCount())
}
