// Package jellyfin implements the HTTP and websocket client for the
// bridged Jellyfin server. Only the endpoints the bridge consumes are
// implemented; see https://api.jellyfin.org for the upstream API.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

var log = logger.Get("Jellyfin")

const (
	defaultHTTPPort  = "8096"
	defaultHTTPSPort = "443"

	authHeader = "X-Emby-Authorization"
)

var serverURLRegex = regexp.MustCompile(`^(https?://)?([^/:]+)(:[0-9]+)?(/.*)?$`)

type (
	// Config holds the connection settings for the bridged server.
	Config struct {
		URL            string `yaml:"url" env:"JELLYFIN_URL" env-required:"true"`
		Username       string `yaml:"username" env:"JELLYFIN_USERNAME" env-required:"true"`
		Password       string `yaml:"password" env:"JELLYFIN_PASSWORD" env-required:"true"`
		ClientName     string `yaml:"client_name" env:"JELLYFIN_CLIENT_NAME" env-default:"jellyfin-ha"`
		ClientVersion  string `yaml:"client_version" env:"JELLYFIN_CLIENT_VERSION" env-default:"1.0"`
		DeviceID       string `yaml:"device_id" env:"JELLYFIN_DEVICE_ID" env-default:"jellyfin-ha"`
		TimeoutSeconds int    `yaml:"timeout_seconds" env:"JELLYFIN_TIMEOUT_SECONDS" env-default:"15"`
	}

	// Client is the authenticated Jellyfin API client. Construct with
	// NewClient and call Connect before issuing any other request.
	Client struct {
		config    Config
		serverURL string
		token     string
		userID    string

		http *retryablehttp.Client
	}
)

// NewClient normalizes the configured server URL and constructs an
// unauthenticated client. Normalization mirrors what users expect from
// the original integration: a missing scheme becomes http, a missing
// port becomes 8096 for http and 443 for https, and any trailing slash
// is removed.
func NewClient(config Config) (*Client, error) {
	serverURL, err := normalizeServerURL(config.URL)
	if err != nil {
		return nil, err
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 5 * time.Second
	httpClient.HTTPClient.Timeout = time.Duration(config.TimeoutSeconds) * time.Second
	httpClient.Logger = nil

	return &Client{
		config:    config,
		serverURL: serverURL,
		http:      httpClient,
	}, nil
}

func normalizeServerURL(raw string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	groups := serverURLRegex.FindStringSubmatch(trimmed)
	if groups == nil {
		return "", &IllegalRequestError{fmt.Sprintf("server URL %q is not a valid address", raw)}
	}

	protocol, host, port, path := groups[1], groups[2], groups[3], groups[4]
	if protocol == "" {
		log.Emit(logger.WARNING, "Adding http:// to server URL because no scheme was provided\n")
		protocol = "http://"
	}

	if port == "" {
		if protocol == "http://" {
			log.Emit(logger.WARNING, "Adding port %s for insecure local http connection\n", defaultHTTPPort)
			port = ":" + defaultHTTPPort
		} else {
			port = ":" + defaultHTTPSPort
		}
	}

	return protocol + host + port + path, nil
}

// Connect authenticates against the server using the configured
// username and password, retaining the access token and user ID for
// all subsequent requests.
func (client *Client) Connect(ctx context.Context) error {
	body, err := json.Marshal(authenticateRequest{Username: client.config.Username, Pw: client.config.Password})
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to marshal authentication request: %s", err.Error())}
	}

	var response authenticateResponse
	if err := client.doRequest(ctx, http.MethodPost, "/Users/AuthenticateByName", nil, body, &response); err != nil {
		return err
	}

	if response.AccessToken == "" || response.User == nil {
		return &UnauthorizedError{}
	}

	client.token = response.AccessToken
	client.userID = response.User.ID
	log.Emit(logger.SUCCESS, "Authenticated against %s as %s\n", client.serverURL, response.User.Name)

	return nil
}

// SystemInfo fetches the server identity used by the server sensor.
func (client *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := client.doRequest(ctx, http.MethodGet, "/System/Info", nil, nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// Sessions returns the current device sessions known to the server.
func (client *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := client.doRequest(ctx, http.MethodGet, "/Sessions", nil, nil, &sessions); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Item fetches a single item by ID, scoped to the authenticated user.
func (client *Client) Item(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	path := fmt.Sprintf("/Users/%s/Items/%s", client.userID, itemID)
	if err := client.doRequest(ctx, http.MethodGet, path, nil, nil, &item); err != nil {
		if failed, ok := err.(*FailedRequestError); ok && failed.HTTPCode == http.StatusNotFound {
			return nil, &NotFoundError{ItemID: itemID}
		}

		return nil, err
	}

	return &item, nil
}

// Items queries the user item listing with the provided filters.
func (client *Client) Items(ctx context.Context, query ItemQuery) ([]Item, error) {
	params := url.Values{}
	if len(query.IDs) > 0 {
		params.Set("Ids", strings.Join(query.IDs, ","))
	}
	if query.ParentID != "" {
		params.Set("ParentId", query.ParentID)
	}
	if query.SearchTerm != "" {
		params.Set("SearchTerm", query.SearchTerm)
	}
	if len(query.IncludeItemTypes) > 0 {
		params.Set("IncludeItemTypes", strings.Join(query.IncludeItemTypes, ","))
	}
	if query.Recursive {
		params.Set("Recursive", "true")
	}
	if query.SortBy != "" {
		params.Set("SortBy", query.SortBy)
	}
	if query.SortOrder != "" {
		params.Set("SortOrder", query.SortOrder)
	}
	if query.Limit > 0 {
		params.Set("Limit", strconv.Itoa(query.Limit))
	}

	var page ItemsPage
	path := fmt.Sprintf("/Users/%s/Items", client.userID)
	if err := client.doRequest(ctx, http.MethodGet, path, params, nil, &page); err != nil {
		return nil, err
	}

	return page.Items, nil
}

// LatestItems returns the most recently added items for the
// authenticated user, newest first.
func (client *Client) LatestItems(ctx context.Context, limit int) ([]Item, error) {
	params := url.Values{}
	params.Set("Limit", strconv.Itoa(limit))
	params.Set("Fields", "DateCreated,PremiereDate,Overview,Genres,Studios")

	var items []Item
	path := fmt.Sprintf("/Users/%s/Items/Latest", client.userID)
	if err := client.doRequest(ctx, http.MethodGet, path, params, nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// DeleteItem removes the item from the servers library.
func (client *Client) DeleteItem(ctx context.Context, itemID string) error {
	err := client.doRequest(ctx, http.MethodDelete, "/Items/"+itemID, nil, nil, nil)
	if failed, ok := err.(*FailedRequestError); ok && failed.HTTPCode == http.StatusNotFound {
		return &NotFoundError{ItemID: itemID}
	}

	return err
}

// RefreshLibrary asks the server to re-scan its media libraries.
func (client *Client) RefreshLibrary(ctx context.Context) error {
	return client.doRequest(ctx, http.MethodPost, "/Library/Refresh", nil, nil, nil)
}

// SendPlayState issues a transport command against a device session.
// The seek position is only consulted for the Seek command.
func (client *Client) SendPlayState(ctx context.Context, sessionID string, command string, seekPositionTicks int64) error {
	params := url.Values{}
	if command == "Seek" {
		params.Set("SeekPositionTicks", strconv.FormatInt(seekPositionTicks, 10))
	}

	path := fmt.Sprintf("/Sessions/%s/Playing/%s", sessionID, command)
	return client.doRequest(ctx, http.MethodPost, path, params, nil, nil)
}

// Play instructs a device session to immediately play the given items.
func (client *Client) Play(ctx context.Context, sessionID string, itemIDs ...string) error {
	params := url.Values{}
	params.Set("playCommand", "PlayNow")
	params.Set("itemIds", strings.Join(itemIDs, ","))

	path := fmt.Sprintf("/Sessions/%s/Playing", sessionID)
	return client.doRequest(ctx, http.MethodPost, path, params, nil, nil)
}

// ArtworkURL constructs the URL of an items image without issuing a
// request; consumers (entity attributes, browse nodes) embed it as-is.
func (client *Client) ArtworkURL(itemID string, imageType string, maxWidth int) string {
	return fmt.Sprintf("%s/Items/%s/Images/%s?MaxWidth=%d&format=PNG", client.serverURL, itemID, imageType, maxWidth)
}

// StreamURL constructs a direct-play stream URL for the item. The
// returned URL carries the access token so casting consumers can fetch
// it without further negotiation.
func (client *Client) StreamURL(item *Item) string {
	resource := "Videos"
	if item.MediaType == "Audio" || item.Type == "Audio" {
		resource = "Audio"
	}

	return fmt.Sprintf("%s/%s/%s/stream?Static=true&api_key=%s&DeviceId=%s",
		client.serverURL, resource, item.ID, url.QueryEscape(client.token), url.QueryEscape(client.config.DeviceID))
}

func (client *Client) ServerURL() string { return client.serverURL }
func (client *Client) Token() string     { return client.token }
func (client *Client) UserID() string    { return client.userID }
func (client *Client) DeviceID() string  { return client.config.DeviceID }

// authorizationHeader composes the MediaBrowser scheme header; the
// token component is only present once Connect has succeeded.
func (client *Client) authorizationHeader() string {
	header := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		client.config.ClientName, client.config.ClientName, client.config.DeviceID, client.config.ClientVersion)
	if client.token != "" {
		header += fmt.Sprintf(`, Token="%s"`, client.token)
	}

	return header
}

func (client *Client) doRequest(ctx context.Context, method string, path string, params url.Values, body []byte, target any) error {
	requestURL := client.serverURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to form %s(%s) request: %s", method, path, err.Error())}
	}

	request.Header.Set(authHeader, client.authorizationHeader())
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.http.Do(request)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to perform %s(%s): %s", method, path, err.Error())}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	if response.StatusCode == http.StatusUnauthorized {
		return &UnauthorizedError{}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &FailedRequestError{HTTPCode: response.StatusCode, Message: strings.TrimSpace(string(responseBody))}
	}

	if target == nil {
		return nil
	}

	if err := json.Unmarshal(responseBody, target); err != nil {
		return &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	return nil
}
