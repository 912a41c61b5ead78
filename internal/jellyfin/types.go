package jellyfin

// The structs below mirror the subset of the Jellyfin API objects the
// bridge consumes. Field names follow the wire format (PascalCase JSON)
// of the Jellyfin server.

type (
	// Session represents a device session as reported by the
	// 'Sessions' endpoint and the websocket session feed. One session
	// maps to one media-player entity.
	Session struct {
		ID                    string     `json:"Id"`
		UserID                string     `json:"UserId,omitempty"`
		UserName              string     `json:"UserName,omitempty"`
		Client                string     `json:"Client,omitempty"`
		DeviceID              string     `json:"DeviceId,omitempty"`
		DeviceName            string     `json:"DeviceName,omitempty"`
		SupportsRemoteControl bool       `json:"SupportsRemoteControl,omitempty"`
		PlayState             *PlayState `json:"PlayState,omitempty"`
		NowPlayingItem        *Item      `json:"NowPlayingItem,omitempty"`
	}

	PlayState struct {
		IsPaused      bool  `json:"IsPaused,omitempty"`
		IsMuted       bool  `json:"IsMuted,omitempty"`
		PositionTicks int64 `json:"PositionTicks,omitempty"`
		VolumeLevel   int   `json:"VolumeLevel,omitempty"`
	}

	// Item is a Jellyfin media item; used both as the NowPlayingItem
	// of a session and as the result rows of item queries.
	Item struct {
		ID                string            `json:"Id"`
		Name              string            `json:"Name,omitempty"`
		Type              string            `json:"Type,omitempty"`
		IsFolder          bool              `json:"IsFolder,omitempty"`
		IsThemeMedia      bool              `json:"IsThemeMedia,omitempty"`
		SeriesName        string            `json:"SeriesName,omitempty"`
		SeasonName        string            `json:"SeasonName,omitempty"`
		ParentIndexNumber *int              `json:"ParentIndexNumber,omitempty"`
		IndexNumber       *int              `json:"IndexNumber,omitempty"`
		Album             string            `json:"Album,omitempty"`
		AlbumArtist       string            `json:"AlbumArtist,omitempty"`
		Artists           []string          `json:"Artists,omitempty"`
		RunTimeTicks      int64             `json:"RunTimeTicks,omitempty"`
		ImageTags         map[string]string `json:"ImageTags,omitempty"`
		DateCreated       string            `json:"DateCreated,omitempty"`
		PremiereDate      string            `json:"PremiereDate,omitempty"`
		ProductionYear    int               `json:"ProductionYear,omitempty"`
		Overview          string            `json:"Overview,omitempty"`
		OfficialRating    string            `json:"OfficialRating,omitempty"`
		CommunityRating   float64           `json:"CommunityRating,omitempty"`
		Studios           []NamedRef        `json:"Studios,omitempty"`
		Genres            []string          `json:"Genres,omitempty"`
		MediaType         string            `json:"MediaType,omitempty"`
	}

	NamedRef struct {
		ID   string `json:"Id,omitempty"`
		Name string `json:"Name,omitempty"`
	}

	ItemsPage struct {
		Items            []Item `json:"Items"`
		TotalRecordCount int    `json:"TotalRecordCount"`
	}

	// SystemInfo summarizes the server; it backs the server sensor entity.
	SystemInfo struct {
		ID              string `json:"Id"`
		ServerName      string `json:"ServerName"`
		Version         string `json:"Version"`
		OperatingSystem string `json:"OperatingSystem"`
	}

	authenticateRequest struct {
		Username string `json:"Username"`
		Pw       string `json:"Pw"`
	}

	authenticateResponse struct {
		User        *authenticatedUser `json:"User"`
		AccessToken string             `json:"AccessToken"`
		ServerID    string             `json:"ServerId"`
	}

	authenticatedUser struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	}

	// ItemQuery carries the supported filters for item queries. Zero
	// values are omitted from the request.
	ItemQuery struct {
		IDs              []string
		ParentID         string
		SearchTerm       string
		IncludeItemTypes []string
		Recursive        bool
		SortBy           string
		SortOrder        string
		Limit            int
	}
)

// RuntimeTicksPerSecond is the Jellyfin tick resolution: one tick is
// 100 nanoseconds, so one second is ten million ticks.
const RuntimeTicksPerSecond = 10_000_000

// TicksToSeconds converts a Jellyfin tick count to whole seconds.
func TicksToSeconds(ticks int64) int {
	return int(ticks / RuntimeTicksPerSecond)
}

// SecondsToTicks converts a position in seconds to Jellyfin ticks.
func SecondsToTicks(seconds int) int64 {
	return int64(seconds) * RuntimeTicksPerSecond
}
