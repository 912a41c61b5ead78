package library

import (
	"context"
	"sort"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/deluan/sanitize"
	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

var log = logger.Get("Library")

const artworkMaxWidth = 500

type (
	Config struct {
		SearchLimit int `yaml:"search_limit" env:"LIBRARY_SEARCH_LIMIT" env-default:"20"`
	}

	// libraryClient is the slice of the Jellyfin client the library
	// services need.
	libraryClient interface {
		Item(ctx context.Context, itemID string) (*jellyfin.Item, error)
		Items(ctx context.Context, query jellyfin.ItemQuery) ([]jellyfin.Item, error)
		DeleteItem(ctx context.Context, itemID string) error
		RefreshLibrary(ctx context.Context) error
		ArtworkURL(itemID string, imageType string, maxWidth int) string
		StreamURL(item *jellyfin.Item) string
	}

	// SearchResult is one ranked search hit; Score is the title
	// similarity to the query (1 is an exact match).
	SearchResult struct {
		ID             string  `json:"id"`
		Title          string  `json:"title"`
		Type           string  `json:"type"`
		ProductionYear int     `json:"production_year,omitempty"`
		Thumbnail      string  `json:"thumbnail,omitempty"`
		Score          float64 `json:"score"`
	}

	// StreamSource is a resolved direct-play source for casting.
	StreamSource struct {
		ItemID   string `json:"item_id"`
		Title    string `json:"title"`
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}

	// Service implements the callable services of the bridge against
	// the Jellyfin client, dispatching library events on the bus.
	Service struct {
		config   Config
		client   libraryClient
		eventBus event.EventDispatcher
	}
)

func New(config Config, client libraryClient, eventBus event.EventDispatcher) *Service {
	return &Service{config: config, client: client, eventBus: eventBus}
}

// Search issues a recursive search against the server and ranks the
// results by title similarity to the query. The query is accent-folded
// first so "Amelie" finds "Amélie".
func (service *Service) Search(ctx context.Context, query string, itemTypes []string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = service.config.SearchLimit
	}

	folded := sanitize.Accents(query)
	items, err := service.client.Items(ctx, jellyfin.ItemQuery{
		SearchTerm:       folded,
		IncludeItemTypes: itemTypes,
		Recursive:        true,
		Limit:            limit,
	})
	if err != nil {
		return nil, err
	}

	metric := &metrics.Hamming{CaseSensitive: false}
	results := make([]SearchResult, 0, len(items))
	for idx := range items {
		item := &items[idx]
		results = append(results, SearchResult{
			ID:             item.ID,
			Title:          item.Name,
			Type:           item.Type,
			ProductionYear: item.ProductionYear,
			Thumbnail:      service.client.ArtworkURL(item.ID, "Primary", artworkMaxWidth),
			Score:          strutil.Similarity(item.Name, query, metric),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Delete removes the item from the server library and announces the
// change on the bus so the sensor refreshes.
func (service *Service) Delete(ctx context.Context, itemID string) error {
	if err := service.client.DeleteItem(ctx, itemID); err != nil {
		return err
	}

	log.Emit(logger.INFO, "Deleted item %s from library\n", itemID)
	service.eventBus.Dispatch(event.LIBRARY_CHANGED, itemID)

	return nil
}

// TriggerScan asks the server to re-scan its libraries.
func (service *Service) TriggerScan(ctx context.Context) error {
	if err := service.client.RefreshLibrary(ctx); err != nil {
		return err
	}

	log.Emit(logger.INFO, "Library scan triggered\n")
	service.eventBus.Dispatch(event.LIBRARY_SCAN, nil)

	return nil
}

// StreamSource resolves a direct-play stream URL for the item so a
// casting-capable consumer can hand it straight to a player.
func (service *Service) StreamSource(ctx context.Context, itemID string) (*StreamSource, error) {
	item, err := service.client.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}

	mimeType := "video/mp4"
	if item.MediaType == "Audio" || item.Type == "Audio" {
		mimeType = "audio/mpeg"
	}

	return &StreamSource{
		ItemID:   item.ID,
		Title:    item.Name,
		URL:      service.client.StreamURL(item),
		MimeType: mimeType,
	}, nil
}
