package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(serverURL string) Config {
	return Config{
		URL:            serverURL,
		Username:       "admin",
		Password:       "hunter2",
		ClientName:     "jellyfin-ha",
		ClientVersion:  "1.0",
		DeviceID:       "test-device",
		TimeoutSeconds: 5,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	return client, server
}

func authenticateHandler(t *testing.T, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Users/AuthenticateByName" {
			var body authenticateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "admin", body.Username)
			assert.Equal(t, "hunter2", body.Pw)

			json.NewEncoder(w).Encode(authenticateResponse{
				User:        &authenticatedUser{ID: "user-1", Name: "admin"},
				AccessToken: "token-abc",
				ServerID:    "server-1",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func Test_NormalizeServerURL_AppliesSchemeAndPortDefaults(t *testing.T) {
	tests := []struct {
		summary  string
		input    string
		expected string
	}{
		{"bare host gains scheme and http port", "media.local", "http://media.local:8096"},
		{"http host gains default port", "http://media.local", "http://media.local:8096"},
		{"https host gains 443", "https://media.example.com", "https://media.example.com:443"},
		{"explicit port preserved", "http://media.local:8920", "http://media.local:8920"},
		{"trailing slash removed", "http://media.local:8096/", "http://media.local:8096"},
		{"path preserved", "https://media.example.com:8920/jellyfin", "https://media.example.com:8920/jellyfin"},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			normalized, err := normalizeServerURL(test.input)
			require.NoError(t, err)
			assert.Equal(t, test.expected, normalized)
		})
	}
}

func Test_Connect_RetainsTokenAndUserID(t *testing.T) {
	client, _ := newTestClient(t, authenticateHandler(t, http.NotFoundHandler()))

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, "token-abc", client.Token())
	assert.Equal(t, "user-1", client.UserID())
}

func Test_Connect_RejectedCredentials(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := client.Connect(context.Background())
	assert.ErrorAs(t, err, new(*UnauthorizedError))
}

func Test_Requests_CarryMediaBrowserAuthorization(t *testing.T) {
	var header string
	client, _ := newTestClient(t, authenticateHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Emby-Authorization")
		json.NewEncoder(w).Encode([]Session{})
	})))

	require.NoError(t, client.Connect(context.Background()))
	_, err := client.Sessions(context.Background())
	require.NoError(t, err)

	assert.Contains(t, header, `MediaBrowser Client="jellyfin-ha"`)
	assert.Contains(t, header, `DeviceId="test-device"`)
	assert.Contains(t, header, `Token="token-abc"`)
}

func Test_Sessions_DecodesPlayState(t *testing.T) {
	client, _ := newTestClient(t, authenticateHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Sessions", r.URL.Path)
		fmt.Fprint(w, `[
			{"Id": "s1", "Client": "Android TV", "DeviceId": "dev-1", "DeviceName": "Living Room",
			 "SupportsRemoteControl": true,
			 "PlayState": {"IsPaused": true, "PositionTicks": 1200000000},
			 "NowPlayingItem": {"Id": "ep-1", "Name": "Pilot", "Type": "Episode", "SeriesName": "Some Show"}}
		]`)
	})))

	require.NoError(t, client.Connect(context.Background()))
	sessions, err := client.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	session := sessions[0]
	assert.Equal(t, "dev-1", session.DeviceID)
	assert.True(t, session.SupportsRemoteControl)
	require.NotNil(t, session.PlayState)
	assert.True(t, session.PlayState.IsPaused)
	assert.Equal(t, 120, TicksToSeconds(session.PlayState.PositionTicks))
	require.NotNil(t, session.NowPlayingItem)
	assert.Equal(t, "Some Show", session.NowPlayingItem.SeriesName)
}

func Test_Item_NotFound(t *testing.T) {
	client, _ := newTestClient(t, authenticateHandler(t, http.NotFoundHandler()))
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.Item(context.Background(), "missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.ItemID)
}

func Test_Items_EncodesQueryFilters(t *testing.T) {
	var query string
	client, _ := newTestClient(t, authenticateHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Users/user-1/Items", r.URL.Path)
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(ItemsPage{Items: []Item{{ID: "m-1", Name: "Heat"}}, TotalRecordCount: 1})
	})))

	require.NoError(t, client.Connect(context.Background()))
	items, err := client.Items(context.Background(), ItemQuery{
		SearchTerm:       "heat",
		IncludeItemTypes: []string{"Movie", "Episode"},
		Recursive:        true,
		Limit:            10,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Contains(t, query, "SearchTerm=heat")
	assert.Contains(t, query, "IncludeItemTypes=Movie%2CEpisode")
	assert.Contains(t, query, "Recursive=true")
	assert.Contains(t, query, "Limit=10")
}

func Test_SendPlayState_SeekCarriesPosition(t *testing.T) {
	var path, query string
	client, _ := newTestClient(t, authenticateHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})))

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.SendPlayState(context.Background(), "s1", "Seek", SecondsToTicks(90)))

	assert.Equal(t, "/Sessions/s1/Playing/Seek", path)
	assert.Contains(t, query, "SeekPositionTicks=900000000")

	require.NoError(t, client.SendPlayState(context.Background(), "s1", "Pause", 0))
	assert.Equal(t, "/Sessions/s1/Playing/Pause", path)
	assert.Empty(t, query)
}

func Test_Play_RequestsPlayNow(t *testing.T) {
	var path, query string
	client, _ := newTestClient(t, authenticateHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})))

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Play(context.Background(), "s1", "m-1"))

	assert.Equal(t, "/Sessions/s1/Playing", path)
	assert.Contains(t, query, "playCommand=PlayNow")
	assert.Contains(t, query, "itemIds=m-1")
}

func Test_ArtworkAndStreamURLs(t *testing.T) {
	client, server := newTestClient(t, authenticateHandler(t, http.NotFoundHandler()))
	require.NoError(t, client.Connect(context.Background()))

	artwork := client.ArtworkURL("m-1", "Thumb", 500)
	assert.Equal(t, server.URL+"/Items/m-1/Images/Thumb?MaxWidth=500&format=PNG", artwork)

	video := client.StreamURL(&Item{ID: "m-1", Type: "Movie", MediaType: "Video"})
	assert.True(t, strings.HasPrefix(video, server.URL+"/Videos/m-1/stream?"))
	assert.Contains(t, video, "api_key=token-abc")

	track := client.StreamURL(&Item{ID: "t-1", Type: "Audio", MediaType: "Audio"})
	assert.True(t, strings.HasPrefix(track, server.URL+"/Audio/t-1/stream?"))
}

func Test_TickConversions(t *testing.T) {
	assert.Equal(t, 60, TicksToSeconds(600_000_000))
	assert.Equal(t, int64(600_000_000), SecondsToTicks(60))
	assert.Equal(t, 0, TicksToSeconds(9_999_999))
}
