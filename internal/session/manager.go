package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

var log = logger.Get("Session")

type (
	// Config controls how the session manager keeps its device list
	// fresh when the websocket feed goes quiet.
	Config struct {
		PollIntervalSeconds  int `yaml:"poll_interval_seconds" env:"SESSION_POLL_INTERVAL_SECONDS" env-default:"60"`
		SensorRefreshSeconds int `yaml:"sensor_refresh_seconds" env:"SENSOR_REFRESH_SECONDS" env-default:"300"`
		LatestMediaLimit     int `yaml:"latest_media_limit" env:"LATEST_MEDIA_LIMIT" env-default:"5"`
	}

	// managerClient is the slice of the Jellyfin client the manager
	// needs on top of what devices already use.
	managerClient interface {
		deviceCommander
		Sessions(ctx context.Context) ([]jellyfin.Session, error)
		DeviceID() string
	}

	// Manager owns the device list. It consumes session snapshots from
	// the websocket feed (with a polling fallback) and dispatches device
	// lifecycle events on the bus. Devices are never deleted once seen;
	// a device missing from a snapshot goes inactive and its entity
	// reports Off until the session reappears.
	Manager struct {
		config   Config
		client   managerClient
		feed     <-chan []jellyfin.Session
		eventBus event.EventCoordinator

		mutex   sync.RWMutex
		devices map[string]*Device
	}
)

func NewManager(config Config, client managerClient, feed <-chan []jellyfin.Session, eventBus event.EventCoordinator) *Manager {
	return &Manager{
		config:   config,
		client:   client,
		feed:     feed,
		eventBus: eventBus,
		devices:  make(map[string]*Device),
	}
}

// Run consumes session snapshots until the context is cancelled. An
// initial poll populates the device list before the feed delivers its
// first push.
func (manager *Manager) Run(ctx context.Context) error {
	if err := manager.poll(ctx); err != nil {
		log.Emit(logger.ERROR, "Initial session poll failed: %v\n", err)
	}

	pollTicker := time.NewTicker(time.Duration(manager.config.PollIntervalSeconds) * time.Second)
	defer pollTicker.Stop()

	for {
		select {
		case sessions, ok := <-manager.feed:
			if !ok {
				return nil
			}

			manager.applySnapshot(sessions)
		case <-pollTicker.C:
			if err := manager.poll(ctx); err != nil {
				log.Emit(logger.WARNING, "Session poll failed: %v\n", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (manager *Manager) poll(ctx context.Context) error {
	sessions, err := manager.client.Sessions(ctx)
	if err != nil {
		return err
	}

	manager.applySnapshot(sessions)
	return nil
}

// applySnapshot reconciles the device list against a full session
// snapshot, dispatching lifecycle events for anything that changed.
func (manager *Manager) applySnapshot(sessions []jellyfin.Session) {
	type pendingEvent struct {
		event   event.Event
		payload event.Payload
	}

	var pending []pendingEvent

	manager.mutex.Lock()
	seen := make(map[string]struct{}, len(sessions))
	for idx := range sessions {
		session := &sessions[idx]
		if session.DeviceID == manager.client.DeviceID() {
			// The bridge's own session is not a device.
			continue
		}

		key := DeviceKey(session)
		seen[key] = struct{}{}

		device, exists := manager.devices[key]
		if !exists {
			manager.devices[key] = newDevice(session, manager.client)
			log.Emit(logger.INFO, "New device %s discovered\n", key)
			pending = append(pending, pendingEvent{event.DEVICE_ADDED, key})
			continue
		}

		wasActive := device.IsActive()
		previous := device.updateSession(session)
		if !wasActive {
			log.Emit(logger.INFO, "Device %s is active again\n", key)
			pending = append(pending, pendingEvent{event.DEVICE_ADDED, key})
			pending = append(pending, pendingEvent{event.DEVICE_UPDATED, key})
			continue
		}

		if shouldNotify(previous, session) {
			pending = append(pending, pendingEvent{event.DEVICE_UPDATED, key})
		}
	}

	for key, device := range manager.devices {
		if _, ok := seen[key]; ok {
			continue
		}

		if device.markInactive() {
			log.Emit(logger.INFO, "Device %s vanished from session feed, marking inactive\n", key)
			pending = append(pending, pendingEvent{event.DEVICE_UPDATED, key})
			pending = append(pending, pendingEvent{event.DEVICE_REMOVED, key})
		}
	}
	manager.mutex.Unlock()

	for _, item := range pending {
		manager.eventBus.Dispatch(item.event, item.payload)
	}
}

// shouldNotify decides whether a session refresh warrants a device
// update event. Theme media (the short clips servers play while the
// user browses) suppresses updates entirely; a playing session always
// notifies (position advances); otherwise only state transitions do.
func shouldNotify(previous *jellyfin.Session, current *jellyfin.Session) bool {
	if isThemeMedia(previous) || isThemeMedia(current) {
		return false
	}

	previousState, currentState := sessionState(previous), sessionState(current)
	if previousState != currentState {
		return true
	}

	return previousState == PLAYING || currentState == PLAYING
}

func isThemeMedia(session *jellyfin.Session) bool {
	return session != nil && session.NowPlayingItem != nil && session.NowPlayingItem.IsThemeMedia
}

// Device fetches a device by its key.
func (manager *Manager) Device(key string) (*Device, bool) {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	device, ok := manager.devices[key]
	return device, ok
}

// Devices returns all known devices (active and inactive) ordered by key.
func (manager *Manager) Devices() []*Device {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	devices := make([]*Device, 0, len(manager.devices))
	for _, device := range manager.devices {
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Key() < devices[j].Key() })
	return devices
}

// ActiveCount reports how many devices currently have a live session.
func (manager *Manager) ActiveCount() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	count := 0
	for _, device := range manager.devices {
		if device.IsActive() {
			count++
		}
	}

	return count
}

// TotalCount reports how many devices have ever been seen.
func (manager *Manager) TotalCount() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	return len(manager.devices)
}
