package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

// sessionsStartInterval asks the server to push session updates
// immediately and then at most every 1.5 seconds.
const sessionsStartInterval = "0,1500"

// maxReconnectDelay caps the exponential backoff between websocket
// reconnection attempts.
const maxReconnectDelay = 100 * time.Second

type (
	socketMessage struct {
		MessageType string          `json:"MessageType"`
		Data        json.RawMessage `json:"Data,omitempty"`
	}

	// SessionFeed maintains a websocket connection to the server and
	// delivers full session snapshots on its Sessions channel. The feed
	// reconnects automatically (with capped exponential backoff) until
	// the context provided to Run is cancelled.
	SessionFeed struct {
		client   *Client
		log      logger.Logger
		sessions chan []Session
	}
)

func NewSessionFeed(client *Client) *SessionFeed {
	return &SessionFeed{
		client:   client,
		log:      logger.Get("SessionFeed"),
		sessions: make(chan []Session, 8),
	}
}

// Sessions is the channel on which the feed delivers session snapshots.
func (feed *SessionFeed) Sessions() <-chan []Session {
	return feed.sessions
}

// Run connects to the server and pumps session snapshots until the
// context is cancelled. Connection failures are not fatal; the feed
// keeps retrying with increasing delays.
func (feed *SessionFeed) Run(ctx context.Context) error {
	defer close(feed.sessions)

	attempt := 0
	for {
		subscribed, err := feed.connectAndPump(ctx)
		if err == nil {
			// A clean pump exit only happens on context cancellation.
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		// Each outage starts the backoff over at one second; only
		// repeated failures to re-establish the connection escalate it.
		if subscribed {
			attempt = 0
		}

		delay := reconnectDelay(attempt)
		attempt++
		feed.log.Emit(logger.WARNING, "Session feed disconnected (%v), reconnecting in %s\n", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// reconnectDelay is 2^attempt seconds, capped at maxReconnectDelay.
// The first retry of an outage (attempt 0) waits one second.
func reconnectDelay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}

	return delay
}

// connectAndPump dials the socket, subscribes to session updates and
// pumps messages until the connection drops or the context is
// cancelled. The subscribed return reports whether the subscription was
// established, letting Run reset its backoff between distinct outages.
func (feed *SessionFeed) connectAndPump(ctx context.Context) (subscribed bool, err error) {
	socketURL := feed.socketURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", socketURL, err)
	}
	defer conn.Close()

	start := socketMessage{MessageType: "SessionsStart", Data: json.RawMessage(fmt.Sprintf("%q", sessionsStartInterval))}
	if err := conn.WriteJSON(start); err != nil {
		return false, fmt.Errorf("failed to subscribe to session updates: %w", err)
	}

	feed.log.Emit(logger.SUCCESS, "Session feed connected to %s\n", socketURL)

	// Close the connection when the context is cancelled so the blocking
	// ReadMessage below unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read failure: %w", err)
		}

		var message socketMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			feed.log.Emit(logger.ERROR, "Discarding malformed socket message: %v\n", err)
			continue
		}

		switch message.MessageType {
		case "Sessions":
			var sessions []Session
			if err := json.Unmarshal(message.Data, &sessions); err != nil {
				feed.log.Emit(logger.ERROR, "Discarding malformed Sessions payload: %v\n", err)
				continue
			}

			select {
			case feed.sessions <- sessions:
			case <-ctx.Done():
				return true, nil
			}
		case "ForceKeepAlive", "KeepAlive":
			if message.MessageType == "ForceKeepAlive" {
				if err := conn.WriteJSON(socketMessage{MessageType: "KeepAlive"}); err != nil {
					return true, fmt.Errorf("failed to answer keep-alive: %w", err)
				}
			}
		default:
			feed.log.Emit(logger.VERBOSE, "Ignoring socket message of type %s\n", message.MessageType)
		}
	}
}

// socketURL derives the websocket endpoint from the normalized server
// URL, carrying the access token and device ID as query parameters.
func (feed *SessionFeed) socketURL() string {
	base := feed.client.ServerURL()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	params := url.Values{}
	params.Set("api_key", feed.client.Token())
	params.Set("deviceId", feed.client.DeviceID())

	return fmt.Sprintf("%s/socket?%s", base, params.Encode())
}
