package activity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/koying/jellyfin-ha/internal/database"
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStore spins up a throwaway Postgres container, connects the
// database manager (running migrations) and returns a ready store.
func setupStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping store integration test in short mode")
	}

	ctx := context.Background()
	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase("jellyfin_ha_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgresC.Terminate(ctx) })

	host, err := postgresC.Host(ctx)
	require.NoError(t, err)
	port, err := postgresC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db := database.New()
	require.NoError(t, db.Connect(database.Config{
		Host:     host,
		Port:     port.Port(),
		Name:     "jellyfin_ha_test",
		User:     "postgres",
		Password: "postgres",
	}))

	return NewStore(db)
}

func activityFixture(deviceKey string, itemID string) *Activity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	season, episode := 1, 3
	return &Activity{
		ID:            uuid.New(),
		DeviceKey:     deviceKey,
		UserName:      "alice",
		ItemID:        itemID,
		ItemTitle:     "Pilot",
		ItemType:      "Episode",
		SeriesName:    "Some Show",
		SeasonNumber:  &season,
		EpisodeNumber: &episode,
		State:         "Playing",
		PositionTicks: 1_200_000_000,
		RuntimeTicks:  12_000_000_000,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

func Test_Store_UpsertAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := activityFixture("tv.Android TV", "ep-1")
	require.NoError(t, store.Upsert(first))

	second := activityFixture("tablet.Kodi", "m-1")
	second.UpdatedAt = second.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.Upsert(second))

	activities, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "tablet.Kodi", activities[0].DeviceKey, "listing is newest first")
	assert.Equal(t, "tv.Android TV", activities[1].DeviceKey)
	require.NotNil(t, activities[1].SeasonNumber)
	assert.Equal(t, 1, *activities[1].SeasonNumber)

	// Re-upserting the same row updates playback state in place.
	first.State = "Paused"
	first.PositionTicks = 2_400_000_000
	first.UpdatedAt = first.UpdatedAt.Add(2 * time.Minute)
	require.NoError(t, store.Upsert(first))

	activities, err = store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "tv.Android TV", activities[0].DeviceKey)
	assert.Equal(t, "Paused", activities[0].State)
	assert.Equal(t, int64(2_400_000_000), activities[0].PositionTicks)
}

func Test_Store_LatestMediaRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	payload := []session.CardItem{
		{Title: "Some Show", Episode: "Pilot", Number: "S01E01", Runtime: 25, Flag: true},
		{Title: "Heat", Runtime: 170, Rating: 8.3, Flag: true},
	}
	require.NoError(t, store.StoreLatestMedia(ctx, payload))

	items, err := store.LatestMedia(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Some Show", items[0].Title, "stored ordering is preserved")
	assert.Equal(t, "S01E01", items[0].Number)
	assert.Equal(t, "Heat", items[1].Title)
	assert.InDelta(t, 8.3, items[1].Rating, 0.0001)

	// A second snapshot fully replaces the first.
	require.NoError(t, store.StoreLatestMedia(ctx, payload[:1]))
	items, err = store.LatestMedia(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
