package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

var sensorLog = logger.Get("Sensor")

type (
	// CardItem is one recently-added entry of the sensor's data payload,
	// following the upcoming-media-card attribute convention.
	CardItem struct {
		Title   string  `json:"title"`
		Episode string  `json:"episode,omitempty"`
		Number  string  `json:"number,omitempty"`
		Aired   string  `json:"aired,omitempty"`
		Release string  `json:"release,omitempty"`
		Runtime int     `json:"runtime,omitempty"`
		Poster  string  `json:"poster,omitempty"`
		Fanart  string  `json:"fanart,omitempty"`
		Rating  float64 `json:"rating,omitempty"`
		Studio  string  `json:"studio,omitempty"`
		Genres  string  `json:"genres,omitempty"`
		Flag    bool    `json:"flag"`
	}

	// cardTemplate is element zero of the data payload; it tells the
	// card how to compose its display lines.
	cardTemplate struct {
		TitleDefault string `json:"title_default"`
		Line1Default string `json:"line1_default"`
		Line2Default string `json:"line2_default"`
		Line3Default string `json:"line3_default"`
		Line4Default string `json:"line4_default"`
		Icon         string `json:"icon"`
	}

	// Attributes is the full attribute set of the server sensor entity.
	Attributes struct {
		ServerName    string `json:"server_name"`
		ServerID      string `json:"server_id"`
		Version       string `json:"version"`
		Online        bool   `json:"online"`
		ActiveDevices int    `json:"active_devices"`
		TotalDevices  int    `json:"total_devices"`
		Data          []any  `json:"data"`
	}

	// LatestMediaSource persists the latest-media payload so the sensor
	// is warm immediately after a restart, before the first refresh.
	LatestMediaSource interface {
		LatestMedia(ctx context.Context, limit int) ([]CardItem, error)
		StoreLatestMedia(ctx context.Context, items []CardItem) error
	}

	sensorClient interface {
		SystemInfo(ctx context.Context) (*jellyfin.SystemInfo, error)
		LatestItems(ctx context.Context, limit int) ([]jellyfin.Item, error)
		ArtworkURL(itemID string, imageType string, maxWidth int) string
	}

	// Sensor is the single server sensor entity. Its state is the count
	// of active devices; its attributes summarize the server and carry
	// the latest-media card payload.
	Sensor struct {
		config        Config
		client        sensorClient
		manager       *Manager
		eventBus      event.EventCoordinator
		warmth        LatestMediaSource
		libraryEvents event.HandlerChannel

		mutex  sync.RWMutex
		info   *jellyfin.SystemInfo
		online bool
		latest []CardItem
	}
)

var defaultCardTemplate = cardTemplate{
	TitleDefault: "$title",
	Line1Default: "$episode",
	Line2Default: "$release",
	Line3Default: "$rating - $runtime",
	Line4Default: "$number - $studio",
	Icon:         "mdi:eye-off",
}

// NewSensor constructs the server sensor and subscribes it to library
// events, so dispatches before Run starts are buffered rather than
// missed. The warmth source is optional; without it the payload starts
// empty after a restart.
func NewSensor(config Config, client sensorClient, manager *Manager, eventBus event.EventCoordinator, warmth LatestMediaSource) *Sensor {
	sensor := &Sensor{
		config:        config,
		client:        client,
		manager:       manager,
		eventBus:      eventBus,
		warmth:        warmth,
		libraryEvents: make(event.HandlerChannel, 4),
	}

	eventBus.RegisterHandlerChannel(sensor.libraryEvents, event.LIBRARY_SCAN, event.LIBRARY_CHANGED)

	return sensor
}

// Run refreshes the sensor on an interval and whenever a library scan
// or library change is dispatched on the bus.
func (sensor *Sensor) Run(ctx context.Context) error {
	if sensor.warmth != nil {
		if items, err := sensor.warmth.LatestMedia(ctx, sensor.config.LatestMediaLimit); err == nil && len(items) > 0 {
			sensor.mutex.Lock()
			sensor.latest = items
			sensor.mutex.Unlock()
			sensorLog.Emit(logger.DEBUG, "Warmed latest-media payload with %d persisted entries\n", len(items))
		}
	}

	sensor.refresh(ctx)

	ticker := time.NewTicker(time.Duration(sensor.config.SensorRefreshSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sensor.libraryEvents:
			sensor.refresh(ctx)
		case <-ticker.C:
			sensor.refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// refresh re-fetches the server identity and the recently-added items,
// dispatching a server update when done. A failed fetch flips the
// sensor offline but keeps the last known payload.
func (sensor *Sensor) refresh(ctx context.Context) {
	info, err := sensor.client.SystemInfo(ctx)

	sensor.mutex.Lock()
	if err != nil {
		sensorLog.Emit(logger.WARNING, "Server unreachable during sensor refresh: %v\n", err)
		sensor.online = false
		sensor.mutex.Unlock()
		sensor.eventBus.Dispatch(event.SERVER_UPDATED, nil)
		return
	}

	sensor.info = info
	sensor.online = true
	sensor.mutex.Unlock()

	items, err := sensor.client.LatestItems(ctx, sensor.config.LatestMediaLimit)
	if err != nil {
		sensorLog.Emit(logger.WARNING, "Failed to fetch latest media: %v\n", err)
	} else {
		latest := make([]CardItem, 0, len(items))
		for idx := range items {
			latest = append(latest, sensor.cardItem(&items[idx]))
		}

		sensor.mutex.Lock()
		sensor.latest = latest
		sensor.mutex.Unlock()

		if sensor.warmth != nil {
			if err := sensor.warmth.StoreLatestMedia(ctx, latest); err != nil {
				sensorLog.Emit(logger.WARNING, "Failed to persist latest-media payload: %v\n", err)
			}
		}
	}

	sensor.eventBus.Dispatch(event.SERVER_UPDATED, nil)
}

// State is the sensor's state value: the number of active devices.
func (sensor *Sensor) State() string {
	return strconv.Itoa(sensor.manager.ActiveCount())
}

// Attributes composes the sensor attribute set, with the card template
// as element zero of the data payload.
func (sensor *Sensor) Attributes() Attributes {
	sensor.mutex.RLock()
	defer sensor.mutex.RUnlock()

	data := make([]any, 0, len(sensor.latest)+1)
	data = append(data, defaultCardTemplate)
	for _, item := range sensor.latest {
		data = append(data, item)
	}

	attributes := Attributes{
		Online:        sensor.online,
		ActiveDevices: sensor.manager.ActiveCount(),
		TotalDevices:  sensor.manager.TotalCount(),
		Data:          data,
	}

	if sensor.info != nil {
		attributes.ServerName = sensor.info.ServerName
		attributes.ServerID = sensor.info.ID
		attributes.Version = sensor.info.Version
	}

	return attributes
}

// cardItem maps a Jellyfin item to its card payload entry. Episodes
// title by their series, with the episode name and SxxExx number on
// their own lines.
func (sensor *Sensor) cardItem(item *jellyfin.Item) CardItem {
	card := CardItem{
		Title:   item.Name,
		Aired:   datePart(item.PremiereDate),
		Release: datePart(item.DateCreated),
		Runtime: jellyfin.TicksToSeconds(item.RunTimeTicks) / 60,
		Poster:  sensor.client.ArtworkURL(item.ID, "Primary", artworkMaxWidth),
		Fanart:  sensor.client.ArtworkURL(item.ID, "Backdrop", artworkMaxWidth),
		Rating:  item.CommunityRating,
		Genres:  strings.Join(item.Genres, ", "),
		Flag:    true,
	}

	if item.Type == "Episode" {
		card.Title = item.SeriesName
		card.Episode = item.Name
		if item.ParentIndexNumber != nil && item.IndexNumber != nil {
			card.Number = fmt.Sprintf("S%02dE%02d", *item.ParentIndexNumber, *item.IndexNumber)
		}
	}

	if len(item.Studios) > 0 {
		card.Studio = item.Studios[0].Name
	}

	return card
}

// datePart trims an ISO timestamp down to its date component.
func datePart(timestamp string) string {
	if len(timestamp) >= 10 {
		return timestamp[:10]
	}

	return timestamp
}
