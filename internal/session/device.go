// Package session tracks the playback devices reported by the bridged
// Jellyfin server and derives the media-player entities and the server
// sensor entity exposed over the API.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koying/jellyfin-ha/internal/jellyfin"
)

type (
	// DeviceState is the four-state play state of a media-player entity.
	DeviceState string

	// deviceCommander is the slice of the Jellyfin client a device needs
	// to issue transport commands and construct artwork URLs.
	deviceCommander interface {
		SendPlayState(ctx context.Context, sessionID string, command string, seekPositionTicks int64) error
		Play(ctx context.Context, sessionID string, itemIDs ...string) error
		ArtworkURL(itemID string, imageType string, maxWidth int) string
	}

	// Device is one media-player entity, keyed by "DeviceId.Client" so
	// that multiple apps on the same physical device stay distinct. A
	// device that disappears from the session feed is marked inactive
	// rather than deleted; its entity reports Off until it returns.
	Device struct {
		key       string
		commander deviceCommander

		mutex       sync.RWMutex
		session     *jellyfin.Session
		active      bool
		lastUpdated time.Time
	}

	// RemoteControlError indicates a transport command was issued to a
	// device whose session does not accept remote control.
	RemoteControlError struct{ DeviceKey string }
)

const (
	OFF     DeviceState = "Off"
	IDLE    DeviceState = "Idle"
	PAUSED  DeviceState = "Paused"
	PLAYING DeviceState = "Playing"
)

const artworkMaxWidth = 500

func (err *RemoteControlError) Error() string {
	return fmt.Sprintf("device %s does not support remote control", err.DeviceKey)
}

// DeviceKey derives the stable identity of a session.
func DeviceKey(session *jellyfin.Session) string {
	return fmt.Sprintf("%s.%s", session.DeviceID, session.Client)
}

func newDevice(session *jellyfin.Session, commander deviceCommander) *Device {
	return &Device{
		key:         DeviceKey(session),
		commander:   commander,
		session:     session,
		active:      true,
		lastUpdated: time.Now(),
	}
}

// updateSession swaps in a fresh session snapshot, returning the one it
// replaced so the caller can compare the two.
func (device *Device) updateSession(session *jellyfin.Session) *jellyfin.Session {
	device.mutex.Lock()
	defer device.mutex.Unlock()

	previous := device.session
	device.session = session
	device.active = true
	device.lastUpdated = time.Now()

	return previous
}

// markInactive flags the device as gone from the feed. Returns false if
// the device was already inactive.
func (device *Device) markInactive() bool {
	device.mutex.Lock()
	defer device.mutex.Unlock()

	if !device.active {
		return false
	}

	device.active = false
	device.lastUpdated = time.Now()

	return true
}

func (device *Device) Key() string { return device.key }

func (device *Device) IsActive() bool {
	device.mutex.RLock()
	defer device.mutex.RUnlock()

	return device.active
}

func (device *Device) LastUpdated() time.Time {
	device.mutex.RLock()
	defer device.mutex.RUnlock()

	return device.lastUpdated
}

// State derives the entity state from the sessions play state.
func (device *Device) State() DeviceState {
	device.mutex.RLock()
	defer device.mutex.RUnlock()

	if !device.active {
		return OFF
	}

	return sessionState(device.session)
}

func sessionState(session *jellyfin.Session) DeviceState {
	if session == nil || session.NowPlayingItem == nil {
		return IDLE
	}

	if session.PlayState != nil && session.PlayState.IsPaused {
		return PAUSED
	}

	return PLAYING
}

func (device *Device) snapshot() *jellyfin.Session {
	device.mutex.RLock()
	defer device.mutex.RUnlock()

	return device.session
}

func (device *Device) DeviceName() string {
	if session := device.snapshot(); session != nil {
		return session.DeviceName
	}

	return ""
}

func (device *Device) ClientName() string {
	if session := device.snapshot(); session != nil {
		return session.Client
	}

	return ""
}

func (device *Device) UserName() string {
	if session := device.snapshot(); session != nil {
		return session.UserName
	}

	return ""
}

func (device *Device) SessionID() string {
	if session := device.snapshot(); session != nil {
		return session.ID
	}

	return ""
}

func (device *Device) SupportsRemoteControl() bool {
	if session := device.snapshot(); session != nil {
		return session.SupportsRemoteControl
	}

	return false
}

func (device *Device) nowPlaying() *jellyfin.Item {
	if session := device.snapshot(); session != nil {
		return session.NowPlayingItem
	}

	return nil
}

func (device *Device) MediaID() string {
	if item := device.nowPlaying(); item != nil {
		return item.ID
	}

	return ""
}

func (device *Device) MediaType() string {
	if item := device.nowPlaying(); item != nil {
		return item.Type
	}

	return ""
}

func (device *Device) MediaTitle() string {
	if item := device.nowPlaying(); item != nil {
		return item.Name
	}

	return ""
}

func (device *Device) MediaSeriesTitle() string {
	if item := device.nowPlaying(); item != nil {
		return item.SeriesName
	}

	return ""
}

func (device *Device) MediaSeason() *int {
	if item := device.nowPlaying(); item != nil {
		return item.ParentIndexNumber
	}

	return nil
}

func (device *Device) MediaEpisode() *int {
	if item := device.nowPlaying(); item != nil {
		return item.IndexNumber
	}

	return nil
}

func (device *Device) MediaAlbum() string {
	if item := device.nowPlaying(); item != nil {
		return item.Album
	}

	return ""
}

func (device *Device) MediaArtist() string {
	if item := device.nowPlaying(); item != nil && len(item.Artists) > 0 {
		return item.Artists[0]
	}

	return ""
}

func (device *Device) MediaAlbumArtist() string {
	if item := device.nowPlaying(); item != nil {
		return item.AlbumArtist
	}

	return ""
}

// MediaImageURL returns the artwork for the playing item, preferring
// the Thumb image over the Primary one when both exist.
func (device *Device) MediaImageURL() string {
	item := device.nowPlaying()
	if item == nil {
		return ""
	}

	if _, ok := item.ImageTags["Thumb"]; ok {
		return device.commander.ArtworkURL(item.ID, "Thumb", artworkMaxWidth)
	}

	return device.commander.ArtworkURL(item.ID, "Primary", artworkMaxWidth)
}

func (device *Device) MediaPositionSeconds() int {
	if session := device.snapshot(); session != nil && session.PlayState != nil {
		return jellyfin.TicksToSeconds(session.PlayState.PositionTicks)
	}

	return 0
}

func (device *Device) MediaRuntimeSeconds() int {
	if item := device.nowPlaying(); item != nil {
		return jellyfin.TicksToSeconds(item.RunTimeTicks)
	}

	return 0
}

// MediaPercentPlayed reports playback progress as 0-100.
func (device *Device) MediaPercentPlayed() float64 {
	item := device.nowPlaying()
	session := device.snapshot()
	if item == nil || session == nil || session.PlayState == nil || item.RunTimeTicks == 0 {
		return 0
	}

	return float64(session.PlayState.PositionTicks) / float64(item.RunTimeTicks) * 100
}

func (device *Device) isPlayingThemeMedia() bool {
	if item := device.nowPlaying(); item != nil {
		return item.IsThemeMedia
	}

	return false
}

// Transport commands. Each requires the underlying session to support
// remote control.

func (device *Device) Play(ctx context.Context) error {
	return device.sendPlayState(ctx, "Unpause", 0)
}

func (device *Device) Pause(ctx context.Context) error {
	return device.sendPlayState(ctx, "Pause", 0)
}

func (device *Device) Stop(ctx context.Context) error {
	return device.sendPlayState(ctx, "Stop", 0)
}

func (device *Device) NextTrack(ctx context.Context) error {
	return device.sendPlayState(ctx, "NextTrack", 0)
}

func (device *Device) PreviousTrack(ctx context.Context) error {
	return device.sendPlayState(ctx, "PreviousTrack", 0)
}

func (device *Device) Seek(ctx context.Context, positionSeconds int) error {
	return device.sendPlayState(ctx, "Seek", jellyfin.SecondsToTicks(positionSeconds))
}

func (device *Device) sendPlayState(ctx context.Context, command string, ticks int64) error {
	if !device.SupportsRemoteControl() {
		return &RemoteControlError{device.key}
	}

	return device.commander.SendPlayState(ctx, device.SessionID(), command, ticks)
}

// PlayMedia casts the given item to this device, starting playback
// immediately.
func (device *Device) PlayMedia(ctx context.Context, itemID string) error {
	if !device.SupportsRemoteControl() {
		return &RemoteControlError{device.key}
	}

	return device.commander.Play(ctx, device.SessionID(), itemID)
}
