package devices

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/labstack/echo/v4"
)

type (
	// Dto is the media-player entity representation of a device.
	Dto struct {
		Key                   string         `json:"key"`
		DeviceName            string         `json:"device_name"`
		ClientName            string         `json:"client_name"`
		UserName              string         `json:"user_name,omitempty"`
		State                 string         `json:"state"`
		Active                bool           `json:"active"`
		SupportsRemoteControl bool           `json:"supports_remote_control"`
		LastUpdated           time.Time      `json:"last_updated"`
		NowPlaying            *NowPlayingDto `json:"now_playing,omitempty"`
	}

	NowPlayingDto struct {
		MediaID         string  `json:"media_id"`
		MediaType       string  `json:"media_type"`
		Title           string  `json:"title"`
		SeriesTitle     string  `json:"series_title,omitempty"`
		Season          *int    `json:"season,omitempty"`
		Episode         *int    `json:"episode,omitempty"`
		Album           string  `json:"album,omitempty"`
		Artist          string  `json:"artist,omitempty"`
		AlbumArtist     string  `json:"album_artist,omitempty"`
		ImageURL        string  `json:"image_url,omitempty"`
		PositionSeconds int     `json:"position_seconds"`
		RuntimeSeconds  int     `json:"runtime_seconds"`
		PercentPlayed   float64 `json:"percent_played"`
	}

	CommandRequest struct {
		Command  string `json:"command" validate:"required,oneof=play pause stop next previous seek"`
		Position *int   `json:"position,omitempty"`
	}

	PlayRequest struct {
		MediaID string `json:"media_id" validate:"required"`
	}

	// Store is the slice of the session manager the controller needs.
	Store interface {
		Device(key string) (*session.Device, bool)
		Devices() []*session.Device
	}

	Controller struct {
		validate *validator.Validate
		store    Store
	}
)

func New(validate *validator.Validate, store Store) *Controller {
	return &Controller{validate: validate, store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.POST("/:id/command/", controller.command)
	eg.POST("/:id/play/", controller.play)
}

func (controller *Controller) list(ec echo.Context) error {
	devices := controller.store.Devices()
	dtos := make([]*Dto, len(devices))
	for idx, device := range devices {
		dtos[idx] = NewDto(device)
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	device, ok := controller.store.Device(ec.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no device with the given key")
	}

	return ec.JSON(http.StatusOK, NewDto(device))
}

// command issues a transport command against the device. Seek requires
// a position (in seconds); all other commands take none.
func (controller *Controller) command(ec echo.Context) error {
	device, ok := controller.store.Device(ec.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no device with the given key")
	}

	var request CommandRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ctx := ec.Request().Context()

	var err error
	switch request.Command {
	case "play":
		err = device.Play(ctx)
	case "pause":
		err = device.Pause(ctx)
	case "stop":
		err = device.Stop(ctx)
	case "next":
		err = device.NextTrack(ctx)
	case "previous":
		err = device.PreviousTrack(ctx)
	case "seek":
		if request.Position == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "seek command requires a 'position' field")
		}
		err = device.Seek(ctx, *request.Position)
	}

	if err != nil {
		return mapDeviceError(err)
	}

	return ec.NoContent(http.StatusOK)
}

// play casts a media item to the device.
func (controller *Controller) play(ec echo.Context) error {
	device, ok := controller.store.Device(ec.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no device with the given key")
	}

	var request PlayRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := device.PlayMedia(ec.Request().Context(), request.MediaID); err != nil {
		return mapDeviceError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func mapDeviceError(err error) *echo.HTTPError {
	var rcErr *session.RemoteControlError
	if errors.As(err, &rcErr) {
		return echo.NewHTTPError(http.StatusConflict, rcErr.Error())
	}

	var failed *jellyfin.FailedRequestError
	if errors.As(err, &failed) {
		return echo.NewHTTPError(http.StatusBadGateway, failed.Error())
	}

	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

// NewDto maps a device to its entity DTO.
func NewDto(device *session.Device) *Dto {
	dto := &Dto{
		Key:                   device.Key(),
		DeviceName:            device.DeviceName(),
		ClientName:            device.ClientName(),
		UserName:              device.UserName(),
		State:                 string(device.State()),
		Active:                device.IsActive(),
		SupportsRemoteControl: device.SupportsRemoteControl(),
		LastUpdated:           device.LastUpdated(),
	}

	if device.MediaID() != "" {
		dto.NowPlaying = &NowPlayingDto{
			MediaID:         device.MediaID(),
			MediaType:       device.MediaType(),
			Title:           device.MediaTitle(),
			SeriesTitle:     device.MediaSeriesTitle(),
			Season:          device.MediaSeason(),
			Episode:         device.MediaEpisode(),
			Album:           device.MediaAlbum(),
			Artist:          device.MediaArtist(),
			AlbumArtist:     device.MediaAlbumArtist(),
			ImageURL:        device.MediaImageURL(),
			PositionSeconds: device.MediaPositionSeconds(),
			RuntimeSeconds:  device.MediaRuntimeSeconds(),
			PercentPlayed:   device.MediaPercentPlayed(),
		}
	}

	return dto
}
