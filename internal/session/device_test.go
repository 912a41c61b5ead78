package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type playStateCall struct {
	sessionID string
	command   string
	ticks     int64
}

// fakeClient stands in for the Jellyfin client across the session
// package tests, recording the commands issued against it.
type fakeClient struct {
	playStateCalls []playStateCall
	playCalls      [][]string
	playStateErr   error

	sessions    []jellyfin.Session
	sessionsErr error

	systemInfo *jellyfin.SystemInfo
	infoErr    error
	latest     []jellyfin.Item
	latestErr  error
}

func (fake *fakeClient) SendPlayState(_ context.Context, sessionID string, command string, ticks int64) error {
	fake.playStateCalls = append(fake.playStateCalls, playStateCall{sessionID, command, ticks})
	return fake.playStateErr
}

func (fake *fakeClient) Play(_ context.Context, sessionID string, itemIDs ...string) error {
	fake.playCalls = append(fake.playCalls, append([]string{sessionID}, itemIDs...))
	return nil
}

func (fake *fakeClient) ArtworkURL(itemID string, imageType string, maxWidth int) string {
	return fmt.Sprintf("http://media.local:8096/Items/%s/Images/%s?MaxWidth=%d", itemID, imageType, maxWidth)
}

func (fake *fakeClient) Sessions(context.Context) ([]jellyfin.Session, error) {
	return fake.sessions, fake.sessionsErr
}

func (fake *fakeClient) DeviceID() string { return "bridge-device" }

func (fake *fakeClient) SystemInfo(context.Context) (*jellyfin.SystemInfo, error) {
	return fake.systemInfo, fake.infoErr
}

func (fake *fakeClient) LatestItems(context.Context, int) ([]jellyfin.Item, error) {
	return fake.latest, fake.latestErr
}

func intPtr(v int) *int { return &v }

func playingSession(deviceID string, client string, paused bool) *jellyfin.Session {
	return &jellyfin.Session{
		ID:                    "session-" + deviceID,
		DeviceID:              deviceID,
		Client:                client,
		DeviceName:            "Living Room",
		UserName:              "alice",
		SupportsRemoteControl: true,
		PlayState:             &jellyfin.PlayState{IsPaused: paused, PositionTicks: jellyfin.SecondsToTicks(300)},
		NowPlayingItem: &jellyfin.Item{
			ID:                "ep-1",
			Name:              "Pilot",
			Type:              "Episode",
			SeriesName:        "Some Show",
			ParentIndexNumber: intPtr(1),
			IndexNumber:       intPtr(3),
			RunTimeTicks:      jellyfin.SecondsToTicks(1200),
			ImageTags:         map[string]string{"Primary": "abc"},
		},
	}
}

func idleSession(deviceID string, client string) *jellyfin.Session {
	return &jellyfin.Session{
		ID:                    "session-" + deviceID,
		DeviceID:              deviceID,
		Client:                client,
		SupportsRemoteControl: true,
	}
}

func Test_Device_StateMachine(t *testing.T) {
	fake := &fakeClient{}

	device := newDevice(idleSession("tv", "Android TV"), fake)
	assert.Equal(t, IDLE, device.State())

	device.updateSession(playingSession("tv", "Android TV", false))
	assert.Equal(t, PLAYING, device.State())

	device.updateSession(playingSession("tv", "Android TV", true))
	assert.Equal(t, PAUSED, device.State())

	require.True(t, device.markInactive())
	assert.Equal(t, OFF, device.State())
	assert.False(t, device.markInactive(), "second markInactive should be a no-op")

	device.updateSession(idleSession("tv", "Android TV"))
	assert.Equal(t, IDLE, device.State())
	assert.True(t, device.IsActive())
}

func Test_Device_NowPlayingAccessors(t *testing.T) {
	device := newDevice(playingSession("tv", "Android TV", false), &fakeClient{})

	assert.Equal(t, "tv.Android TV", device.Key())
	assert.Equal(t, "Pilot", device.MediaTitle())
	assert.Equal(t, "Some Show", device.MediaSeriesTitle())
	require.NotNil(t, device.MediaSeason())
	assert.Equal(t, 1, *device.MediaSeason())
	require.NotNil(t, device.MediaEpisode())
	assert.Equal(t, 3, *device.MediaEpisode())
	assert.Equal(t, 300, device.MediaPositionSeconds())
	assert.Equal(t, 1200, device.MediaRuntimeSeconds())
	assert.InDelta(t, 25.0, device.MediaPercentPlayed(), 0.001)
}

func Test_Device_ArtworkPrefersThumb(t *testing.T) {
	session := playingSession("tv", "Android TV", false)
	device := newDevice(session, &fakeClient{})
	assert.Contains(t, device.MediaImageURL(), "/Images/Primary")

	session.NowPlayingItem.ImageTags["Thumb"] = "def"
	device.updateSession(session)
	assert.Contains(t, device.MediaImageURL(), "/Images/Thumb")
	assert.Contains(t, device.MediaImageURL(), "MaxWidth=500")
}

func Test_Device_Commands(t *testing.T) {
	fake := &fakeClient{}
	device := newDevice(playingSession("tv", "Android TV", false), fake)
	ctx := context.Background()

	require.NoError(t, device.Pause(ctx))
	require.NoError(t, device.Play(ctx))
	require.NoError(t, device.Stop(ctx))
	require.NoError(t, device.NextTrack(ctx))
	require.NoError(t, device.PreviousTrack(ctx))
	require.NoError(t, device.Seek(ctx, 90))

	require.Len(t, fake.playStateCalls, 6)
	assert.Equal(t, "Pause", fake.playStateCalls[0].command)
	assert.Equal(t, "Unpause", fake.playStateCalls[1].command)
	assert.Equal(t, "Stop", fake.playStateCalls[2].command)
	assert.Equal(t, "NextTrack", fake.playStateCalls[3].command)
	assert.Equal(t, "PreviousTrack", fake.playStateCalls[4].command)
	assert.Equal(t, "Seek", fake.playStateCalls[5].command)
	assert.Equal(t, jellyfin.SecondsToTicks(90), fake.playStateCalls[5].ticks)
	assert.Equal(t, "session-tv", fake.playStateCalls[0].sessionID)

	require.NoError(t, device.PlayMedia(ctx, "movie-9"))
	require.Len(t, fake.playCalls, 1)
	assert.Equal(t, []string{"session-tv", "movie-9"}, fake.playCalls[0])
}

func Test_Device_CommandsRequireRemoteControl(t *testing.T) {
	session := playingSession("tv", "Android TV", false)
	session.SupportsRemoteControl = false

	fake := &fakeClient{}
	device := newDevice(session, fake)

	var rcErr *RemoteControlError
	require.ErrorAs(t, device.Pause(context.Background()), &rcErr)
	assert.Equal(t, "tv.Android TV", rcErr.DeviceKey)
	require.ErrorAs(t, device.PlayMedia(context.Background(), "movie-9"), &rcErr)
	assert.Empty(t, fake.playStateCalls)
	assert.Empty(t, fake.playCalls)
}
