package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps one upgraded websocket connection. Writes are
// serialized through a mutex as gorilla connections allow only one
// concurrent writer.
type socketClient struct {
	id         *uuid.UUID
	socket     *websocket.Conn
	writeMutex sync.Mutex
	closed     bool
}

// Read pumps inbound messages onto the provided channel until the
// connection drops. Each message is stamped with this clients id as
// its origin.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		message := &SocketMessage{}
		if err := client.socket.ReadJSON(message); err != nil {
			return err
		}

		message.Origin = client.id
		receiveCh <- message
	}
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	if client.closed {
		return nil
	}

	return client.socket.WriteJSON(message)
}

func (client *socketClient) Close() {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	if client.closed {
		return
	}

	client.closed = true
	client.socket.Close()
}
