package server

import (
	"net/http"

	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/labstack/echo/v4"
)

type (
	// Dto is the server sensor entity: a state string (the active
	// device count) plus the attribute payload consumed by the
	// upcoming-media card.
	Dto struct {
		State      string             `json:"state"`
		Attributes session.Attributes `json:"attributes"`
	}

	// Sensor is the slice of the server sensor the controller needs.
	Sensor interface {
		State() string
		Attributes() session.Attributes
	}

	Controller struct {
		sensor Sensor
	}
)

func New(sensor Sensor) *Controller {
	return &Controller{sensor: sensor}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	return ec.JSON(http.StatusOK, NewDto(controller.sensor))
}

func NewDto(sensor Sensor) *Dto {
	return &Dto{State: sensor.State(), Attributes: sensor.Attributes()}
}
