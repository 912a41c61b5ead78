package activities

import (
	"context"
	"net/http"
	"strconv"

	"github.com/koying/jellyfin-ha/internal/activity"
	"github.com/labstack/echo/v4"
)

const defaultListLimit = 50

type (
	// Store is the slice of the activity store the controller needs.
	Store interface {
		List(ctx context.Context, limit int) ([]activity.Activity, error)
	}

	Controller struct {
		store Store
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
}

// list returns recent playback activity, newest first. The 'limit'
// query parameter caps the row count.
func (controller *Controller) list(ec echo.Context) error {
	limit := defaultListLimit
	if raw := ec.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	activities, err := controller.store.List(ec.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, activities)
}
