package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWarmth struct {
	stored []CardItem
	warm   []CardItem
}

func (fake *fakeWarmth) LatestMedia(context.Context, int) ([]CardItem, error) {
	return fake.warm, nil
}

func (fake *fakeWarmth) StoreLatestMedia(_ context.Context, items []CardItem) error {
	fake.stored = items
	return nil
}

func newTestSensor(fake *fakeClient, warmth LatestMediaSource) *Sensor {
	eventBus := event.New()
	manager := NewManager(Config{PollIntervalSeconds: 60}, fake, nil, eventBus)
	manager.applySnapshot([]jellyfin.Session{*playingSession("tv", "Android TV", false)})

	return NewSensor(Config{LatestMediaLimit: 5, SensorRefreshSeconds: 300}, fake, manager, eventBus, warmth)
}

func latestEpisodeFixture() jellyfin.Item {
	return jellyfin.Item{
		ID:                "ep-9",
		Name:              "The One With The Test",
		Type:              "Episode",
		SeriesName:        "Some Show",
		ParentIndexNumber: intPtr(2),
		IndexNumber:       intPtr(4),
		PremiereDate:      "2026-08-01T00:00:00.0000000Z",
		DateCreated:       "2026-08-20T17:33:01.0000000Z",
		RunTimeTicks:      jellyfin.SecondsToTicks(1500),
		CommunityRating:   8.1,
		Studios:           []jellyfin.NamedRef{{ID: "st-1", Name: "HBO"}},
		Genres:            []string{"Drama", "Comedy"},
	}
}

func Test_Sensor_RefreshBuildsCardPayload(t *testing.T) {
	fake := &fakeClient{
		systemInfo: &jellyfin.SystemInfo{ID: "srv-1", ServerName: "Media", Version: "10.9.2"},
		latest:     []jellyfin.Item{latestEpisodeFixture()},
	}
	warmth := &fakeWarmth{}
	sensor := newTestSensor(fake, warmth)

	sensor.refresh(context.Background())

	assert.Equal(t, "1", sensor.State())

	attributes := sensor.Attributes()
	assert.Equal(t, "Media", attributes.ServerName)
	assert.Equal(t, "srv-1", attributes.ServerID)
	assert.True(t, attributes.Online)
	assert.Equal(t, 1, attributes.ActiveDevices)
	assert.Equal(t, 1, attributes.TotalDevices)

	require.Len(t, attributes.Data, 2)
	template, ok := attributes.Data[0].(cardTemplate)
	require.True(t, ok, "element zero must be the card template")
	assert.Equal(t, "$title", template.TitleDefault)
	assert.Equal(t, "mdi:eye-off", template.Icon)

	card, ok := attributes.Data[1].(CardItem)
	require.True(t, ok)
	assert.Equal(t, "Some Show", card.Title)
	assert.Equal(t, "The One With The Test", card.Episode)
	assert.Equal(t, "S02E04", card.Number)
	assert.Equal(t, "2026-08-01", card.Aired)
	assert.Equal(t, "2026-08-20", card.Release)
	assert.Equal(t, 25, card.Runtime)
	assert.Equal(t, "HBO", card.Studio)
	assert.Equal(t, "Drama, Comedy", card.Genres)
	assert.Contains(t, card.Poster, "/Images/Primary")
	assert.Contains(t, card.Fanart, "/Images/Backdrop")

	require.Len(t, warmth.stored, 1, "refresh should persist the payload")
	assert.Equal(t, "Some Show", warmth.stored[0].Title)
}

func Test_Sensor_OfflineKeepsLastPayload(t *testing.T) {
	fake := &fakeClient{
		systemInfo: &jellyfin.SystemInfo{ID: "srv-1", ServerName: "Media", Version: "10.9.2"},
		latest:     []jellyfin.Item{latestEpisodeFixture()},
	}
	sensor := newTestSensor(fake, nil)
	sensor.refresh(context.Background())

	fake.infoErr = &jellyfin.FailedRequestError{HTTPCode: 502, Message: "bad gateway"}
	sensor.refresh(context.Background())

	attributes := sensor.Attributes()
	assert.False(t, attributes.Online)
	assert.Len(t, attributes.Data, 2, "payload survives the outage")
}

// countingClient is safe for use from the sensor's Run goroutine.
type countingClient struct {
	infoCalls atomic.Int32
}

func (fake *countingClient) SystemInfo(context.Context) (*jellyfin.SystemInfo, error) {
	fake.infoCalls.Add(1)
	return &jellyfin.SystemInfo{ID: "srv-1"}, nil
}

func (fake *countingClient) LatestItems(context.Context, int) ([]jellyfin.Item, error) {
	return nil, nil
}

func (fake *countingClient) ArtworkURL(string, string, int) string { return "" }

func Test_Sensor_LibraryEventBeforeRunIsNotMissed(t *testing.T) {
	eventBus := event.New()
	manager := NewManager(Config{PollIntervalSeconds: 3600}, &fakeClient{}, nil, eventBus)
	client := &countingClient{}
	sensor := NewSensor(Config{LatestMediaLimit: 5, SensorRefreshSeconds: 300}, client, manager, eventBus, nil)

	// Dispatched between construction and Run; the construction-time
	// subscription must buffer it.
	eventBus.Dispatch(event.LIBRARY_SCAN, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sensor.Run(ctx)

	require.Eventually(t, func() bool { return client.infoCalls.Load() >= 2 },
		time.Second, 10*time.Millisecond, "expected the initial refresh plus the buffered library event")
}

func Test_Sensor_MovieCardHasNoEpisodeFields(t *testing.T) {
	movie := jellyfin.Item{
		ID:              "m-1",
		Name:            "Heat",
		Type:            "Movie",
		PremiereDate:    "1995-12-15T00:00:00.0000000Z",
		RunTimeTicks:    jellyfin.SecondsToTicks(10200),
		CommunityRating: 8.3,
	}

	fake := &fakeClient{systemInfo: &jellyfin.SystemInfo{ID: "srv-1"}, latest: []jellyfin.Item{movie}}
	sensor := newTestSensor(fake, nil)
	sensor.refresh(context.Background())

	card, ok := sensor.Attributes().Data[1].(CardItem)
	require.True(t, ok)
	assert.Equal(t, "Heat", card.Title)
	assert.Empty(t, card.Episode)
	assert.Empty(t, card.Number)
	assert.Equal(t, 170, card.Runtime)
}
