package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mutex   sync.Mutex
	records []Activity
}

func (fake *fakeSink) Upsert(record *Activity) error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	fake.records = append(fake.records, *record)
	return nil
}

func (fake *fakeSink) all() []Activity {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	return append([]Activity{}, fake.records...)
}

type fakeSessionClient struct{}

func (fakeSessionClient) SendPlayState(context.Context, string, string, int64) error { return nil }
func (fakeSessionClient) Play(context.Context, string, ...string) error              { return nil }
func (fakeSessionClient) ArtworkURL(itemID string, imageType string, maxWidth int) string {
	return "http://media.local:8096/Items/" + itemID + "/Images/" + imageType
}
func (fakeSessionClient) Sessions(context.Context) ([]jellyfin.Session, error) { return nil, nil }
func (fakeSessionClient) DeviceID() string                                     { return "bridge-device" }

func playingSnapshot(positionSeconds int) []jellyfin.Session {
	return []jellyfin.Session{{
		ID:                    "session-tv",
		DeviceID:              "tv",
		Client:                "Android TV",
		UserName:              "alice",
		SupportsRemoteControl: true,
		PlayState:             &jellyfin.PlayState{PositionTicks: jellyfin.SecondsToTicks(positionSeconds)},
		NowPlayingItem: &jellyfin.Item{
			ID:           "ep-1",
			Name:         "Pilot",
			Type:         "Episode",
			SeriesName:   "Some Show",
			RunTimeTicks: jellyfin.SecondsToTicks(1200),
		},
	}}
}

func Test_Recorder_TracksPlaybackThroughCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []jellyfin.Session)
	eventBus := event.New()
	manager := session.NewManager(session.Config{PollIntervalSeconds: 3600}, fakeSessionClient{}, feed, eventBus)

	sink := &fakeSink{}
	recorder := NewRecorder(sink, manager, eventBus)

	go manager.Run(ctx)

	feed <- playingSnapshot(10)
	require.Eventually(t, func() bool { return recorder.QueueLength() == 1 }, time.Second, 10*time.Millisecond)

	// Drain synchronously instead of spinning up the worker pool.
	didWork, err := recorder.drain(nil)
	require.NoError(t, err)
	require.True(t, didWork)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "tv.Android TV", records[0].DeviceKey)
	assert.Equal(t, "alice", records[0].UserName)
	assert.Equal(t, "ep-1", records[0].ItemID)
	assert.Equal(t, "Playing", records[0].State)
	assert.Equal(t, jellyfin.SecondsToTicks(10), records[0].PositionTicks)

	// A later update for the same item reuses the same row.
	feed <- playingSnapshot(25)
	require.Eventually(t, func() bool { return recorder.QueueLength() == 1 }, time.Second, 10*time.Millisecond)
	didWork, err = recorder.drain(nil)
	require.NoError(t, err)
	require.True(t, didWork)

	records = sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, records[0].ID, records[1].ID, "continued playback updates the same row")
	assert.Equal(t, jellyfin.SecondsToTicks(25), records[1].PositionTicks)

	// An idle snapshot closes the cursor; the next playback opens a
	// fresh row.
	feed <- []jellyfin.Session{{ID: "session-tv", DeviceID: "tv", Client: "Android TV", SupportsRemoteControl: true}}
	require.Eventually(t, func() bool { return recorder.QueueLength() == 0 }, time.Second, 10*time.Millisecond)

	feed <- playingSnapshot(0)
	require.Eventually(t, func() bool { return recorder.QueueLength() == 1 }, time.Second, 10*time.Millisecond)
	_, err = recorder.drain(nil)
	require.NoError(t, err)

	records = sink.all()
	require.Len(t, records, 3)
	assert.NotEqual(t, records[0].ID, records[2].ID, "new playback opens a new row")
}

func Test_Recorder_DrainSleepsWhenQueueEmpty(t *testing.T) {
	recorder := NewRecorder(&fakeSink{}, session.NewManager(session.Config{}, fakeSessionClient{}, nil, event.New()), event.New())

	didWork, err := recorder.drain(nil)
	require.NoError(t, err)
	assert.False(t, didWork)
}
