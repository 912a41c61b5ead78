package medias

import (
	"context"
	"errors"
	"net/http"

	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/library"
	"github.com/labstack/echo/v4"
)

type (
	// Resolver is the slice of the library service the controller needs
	// to resolve media stream sources.
	Resolver interface {
		StreamSource(ctx context.Context, itemID string) (*library.StreamSource, error)
	}

	Controller struct {
		resolver Resolver
	}
)

func New(resolver Resolver) *Controller {
	return &Controller{resolver: resolver}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/source/", controller.source)
}

// source resolves a direct-play stream URL for the media item so a
// casting consumer can hand it to a player.
func (controller *Controller) source(ec echo.Context) error {
	source, err := controller.resolver.StreamSource(ec.Request().Context(), ec.Param("id"))
	if err != nil {
		var notFound *jellyfin.NotFoundError
		if errors.As(err, &notFound) {
			return echo.NewHTTPError(http.StatusNotFound, notFound.Error())
		}

		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return ec.JSON(http.StatusOK, source)
}
