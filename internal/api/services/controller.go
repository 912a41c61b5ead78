// Package services exposes the callable services of the bridge:
// trigger-scan, browse, search and delete.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/library"
	"github.com/labstack/echo/v4"
)

type (
	BrowseRequest struct {
		MediaContentType string `json:"media_content_type"`
		MediaContentID   string `json:"media_content_id"`
	}

	SearchRequest struct {
		Query     string   `json:"query" validate:"required"`
		ItemTypes []string `json:"item_types,omitempty"`
		Limit     int      `json:"limit,omitempty"`
	}

	DeleteRequest struct {
		MediaID string `json:"media_id" validate:"required"`
	}

	// Library is the slice of the library service the controller needs.
	Library interface {
		Browse(ctx context.Context, contentType string, contentID string) (*library.BrowseNode, error)
		Search(ctx context.Context, query string, itemTypes []string, limit int) ([]library.SearchResult, error)
		Delete(ctx context.Context, itemID string) error
		TriggerScan(ctx context.Context) error
	}

	Controller struct {
		validate *validator.Validate
		library  Library
	}
)

func New(validate *validator.Validate, library Library) *Controller {
	return &Controller{validate: validate, library: library}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/trigger-scan/", controller.triggerScan)
	eg.POST("/browse/", controller.browse)
	eg.POST("/search/", controller.search)
	eg.POST("/delete/", controller.delete)
}

func (controller *Controller) triggerScan(ec echo.Context) error {
	if err := controller.library.TriggerScan(ec.Request().Context()); err != nil {
		return mapLibraryError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) browse(ec echo.Context) error {
	var request BrowseRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	node, err := controller.library.Browse(ec.Request().Context(), request.MediaContentType, request.MediaContentID)
	if err != nil {
		return mapLibraryError(err)
	}

	return ec.JSON(http.StatusOK, node)
}

func (controller *Controller) search(ec echo.Context) error {
	var request SearchRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := controller.library.Search(ec.Request().Context(), request.Query, request.ItemTypes, request.Limit)
	if err != nil {
		return mapLibraryError(err)
	}

	return ec.JSON(http.StatusOK, results)
}

func (controller *Controller) delete(ec echo.Context) error {
	var request DeleteRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := controller.library.Delete(ec.Request().Context(), request.MediaID); err != nil {
		return mapLibraryError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func mapLibraryError(err error) *echo.HTTPError {
	var notFound *jellyfin.NotFoundError
	if errors.As(err, &notFound) {
		return echo.NewHTTPError(http.StatusNotFound, notFound.Error())
	}

	var unknownType *library.UnknownMediaTypeError
	if errors.As(err, &unknownType) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, unknownType.Error())
	}

	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
