// Package library implements the callable media services: browsing the
// library tree, searching, deleting items, triggering scans and
// resolving stream sources.
package library

import (
	"context"
	"fmt"

	"github.com/koying/jellyfin-ha/internal/jellyfin"
)

// Media content types and classes follow the host automation system's
// media-player conventions, which is what consumers of the browse tree
// expect to receive.
const (
	MediaTypeMovie    = "movie"
	MediaTypeTVShow   = "tvshow"
	MediaTypeSeason   = "season"
	MediaTypeEpisode  = "episode"
	MediaTypeAlbum    = "album"
	MediaTypeArtist   = "artist"
	MediaTypeTrack    = "track"
	MediaTypePlaylist = "playlist"

	MediaClassDirectory = "directory"
	MediaClassMovie     = "movie"
	MediaClassTVShow    = "tv_show"
	MediaClassSeason    = "season"
	MediaClassEpisode   = "episode"
	MediaClassAlbum     = "album"
	MediaClassArtist    = "artist"
	MediaClassTrack     = "track"
)

type (
	// BrowseNode is one node of the browse tree. The root and container
	// nodes carry children; leaves do not.
	BrowseNode struct {
		Title            string       `json:"title"`
		MediaClass       string       `json:"media_class"`
		MediaContentType string       `json:"media_content_type"`
		MediaContentID   string       `json:"media_content_id"`
		CanPlay          bool         `json:"can_play"`
		CanExpand        bool         `json:"can_expand"`
		Thumbnail        string       `json:"thumbnail,omitempty"`
		Children         []BrowseNode `json:"children"`
	}

	// UnknownMediaTypeError indicates the server reported an item type
	// the browse tree has no mapping for.
	UnknownMediaTypeError struct{ ItemType string }
)

func (err *UnknownMediaTypeError) Error() string {
	return fmt.Sprintf("item type %q has no media type mapping", err.ItemType)
}

// itemMediaTypes maps Jellyfin item types to media content types.
var itemMediaTypes = map[string]string{
	"Movie":            MediaTypeMovie,
	"Series":           MediaTypeTVShow,
	"Season":           MediaTypeSeason,
	"Episode":          MediaTypeEpisode,
	"Music":            MediaTypeAlbum,
	"Audio":            MediaTypeTrack,
	"BoxSet":           MediaClassDirectory,
	"Folder":           MediaClassDirectory,
	"CollectionFolder": MediaClassDirectory,
	"Playlist":         MediaClassDirectory,
	"MusicArtist":      MediaTypeArtist,
	"MusicAlbum":       MediaTypeAlbum,
}

// itemMediaClasses maps Jellyfin item types to media classes.
var itemMediaClasses = map[string]string{
	"Movie":            MediaClassMovie,
	"Series":           MediaClassTVShow,
	"Season":           MediaClassSeason,
	"Episode":          MediaClassEpisode,
	"Music":            MediaClassDirectory,
	"BoxSet":           MediaClassDirectory,
	"Folder":           MediaClassDirectory,
	"CollectionFolder": MediaClassDirectory,
	"Playlist":         MediaClassDirectory,
	"MusicArtist":      MediaClassArtist,
	"MusicAlbum":       MediaClassAlbum,
	"Audio":            MediaClassTrack,
}

// itemPlayable marks which Jellyfin item types a device can play
// directly (or as a collection handed to PlayNow).
var itemPlayable = map[string]bool{
	"Movie":            true,
	"Series":           true,
	"Season":           true,
	"Episode":          true,
	"Music":            false,
	"BoxSet":           true,
	"Folder":           false,
	"CollectionFolder": false,
	"Playlist":         true,
	"MusicArtist":      true,
	"MusicAlbum":       true,
	"Audio":            true,
}

// expandableContentTypes are the content types browsed by listing the
// children of the node rather than looking up the node itself.
var expandableContentTypes = map[string]bool{
	MediaClassDirectory: true,
	MediaTypeArtist:     true,
	MediaTypeAlbum:      true,
	MediaTypePlaylist:   true,
	MediaTypeTVShow:     true,
	MediaTypeSeason:     true,
}

func mediaTypeFor(itemType string) (string, error) {
	mediaType, ok := itemMediaTypes[itemType]
	if !ok {
		return "", &UnknownMediaTypeError{itemType}
	}

	return mediaType, nil
}

func mediaClassFor(itemType string) (string, error) {
	mediaClass, ok := itemMediaClasses[itemType]
	if !ok {
		return "", &UnknownMediaTypeError{itemType}
	}

	return mediaClass, nil
}

// Browse builds the browse tree node for the given content type and
// id. An empty or "library" content type yields the root directory;
// expandable content types list their children; anything else resolves
// to a playable leaf.
func (service *Service) Browse(ctx context.Context, contentType string, contentID string) (*BrowseNode, error) {
	switch {
	case contentType == "" || contentType == "library":
		return service.browseRoot(ctx)
	case expandableContentTypes[contentType]:
		return service.browseContainer(ctx, contentType, contentID)
	default:
		return service.browseLeaf(ctx, contentType, contentID)
	}
}

func (service *Service) browseRoot(ctx context.Context) (*BrowseNode, error) {
	node := &BrowseNode{
		Title:            "Media Library",
		MediaClass:       MediaClassDirectory,
		MediaContentType: "library",
		MediaContentID:   "library",
		CanPlay:          false,
		CanExpand:        true,
		Children:         []BrowseNode{},
	}

	items, err := service.client.Items(ctx, jellyfin.ItemQuery{})
	if err != nil {
		return nil, err
	}

	return service.attachChildren(node, items)
}

func (service *Service) browseContainer(ctx context.Context, contentType string, contentID string) (*BrowseNode, error) {
	parent, err := service.client.Item(ctx, contentID)
	if err != nil {
		return nil, err
	}

	node := &BrowseNode{
		Title:            parent.Name,
		MediaClass:       contentType,
		MediaContentType: contentType,
		MediaContentID:   contentID,
		CanPlay:          itemPlayable[parent.Type],
		CanExpand:        true,
		Thumbnail:        service.client.ArtworkURL(contentID, "Primary", artworkMaxWidth),
		Children:         []BrowseNode{},
	}

	items, err := service.client.Items(ctx, jellyfin.ItemQuery{ParentID: contentID})
	if err != nil {
		return nil, err
	}

	return service.attachChildren(node, items)
}

func (service *Service) browseLeaf(ctx context.Context, contentType string, contentID string) (*BrowseNode, error) {
	items, err := service.client.Items(ctx, jellyfin.ItemQuery{IDs: []string{contentID}})
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, &jellyfin.NotFoundError{ItemID: contentID}
	}

	item := &items[0]
	mediaType, err := mediaTypeFor(item.Type)
	if err != nil {
		return nil, err
	}
	mediaClass, err := mediaClassFor(item.Type)
	if err != nil {
		return nil, err
	}

	return &BrowseNode{
		Title:            item.Name,
		MediaClass:       mediaClass,
		MediaContentType: mediaType,
		MediaContentID:   item.ID,
		CanPlay:          itemPlayable[item.Type],
		CanExpand:        false,
		Thumbnail:        service.client.ArtworkURL(item.ID, "Primary", artworkMaxWidth),
		Children:         []BrowseNode{},
	}, nil
}

func (service *Service) attachChildren(node *BrowseNode, items []jellyfin.Item) (*BrowseNode, error) {
	for idx := range items {
		item := &items[idx]
		mediaType, err := mediaTypeFor(item.Type)
		if err != nil {
			return nil, err
		}
		mediaClass, err := mediaClassFor(item.Type)
		if err != nil {
			return nil, err
		}

		node.Children = append(node.Children, BrowseNode{
			Title:            item.Name,
			MediaClass:       mediaClass,
			MediaContentType: mediaType,
			MediaContentID:   item.ID,
			CanPlay:          itemPlayable[item.Type],
			CanExpand:        item.IsFolder,
			Thumbnail:        service.client.ArtworkURL(item.ID, "Primary", artworkMaxWidth),
			Children:         []BrowseNode{},
		})
	}

	return node, nil
}
