package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/koying/jellyfin-ha/internal/api/devices"
	"github.com/koying/jellyfin-ha/internal/api/server"
	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/http/websocket"
	"github.com/koying/jellyfin-ha/pkg/logger"
	"github.com/mitchellh/mapstructure"
)

const (
	TitleDeviceUpdate = "DEVICE_UPDATE"
	TitleDeviceGone   = "DEVICE_GONE"
	TitleServerUpdate = "SERVER_UPDATE"
)

type (
	deviceCommandArgs struct {
		Key      string `mapstructure:"key"`
		Command  string `mapstructure:"command"`
		Position *int   `mapstructure:"position"`
	}

	// broadcaster bridges the event bus and the socket hub: entity
	// changes are pushed to all connected clients, and client commands
	// are routed back into the session layer.
	broadcaster struct {
		socketHub   *websocket.SocketHub
		deviceStore devices.Store
		sensor      server.Sensor
		updates     event.HandlerChannel
	}
)

// newBroadcaster subscribes to entity events at construction so
// dispatches before listen starts are buffered rather than missed.
func newBroadcaster(eventBus event.EventHandler, socketHub *websocket.SocketHub, deviceStore devices.Store, sensor server.Sensor) *broadcaster {
	hub := &broadcaster{
		socketHub:   socketHub,
		deviceStore: deviceStore,
		sensor:      sensor,
		updates:     make(event.HandlerChannel, 16),
	}

	eventBus.RegisterHandlerChannel(hub.updates,
		event.DEVICE_ADDED, event.DEVICE_UPDATED, event.DEVICE_REMOVED, event.SERVER_UPDATED)

	return hub
}

// listen forwards entity events from the bus to connected clients
// until the context is cancelled.
func (hub *broadcaster) listen(ctx context.Context) {
	for {
		select {
		case update := <-hub.updates:
			hub.handleEvent(update)
		case <-ctx.Done():
			return
		}
	}
}

func (hub *broadcaster) handleEvent(update event.HandlerEvent) {
	switch update.Event {
	case event.DEVICE_ADDED, event.DEVICE_UPDATED:
		key, ok := update.Payload.(string)
		if !ok {
			return
		}

		device, found := hub.deviceStore.Device(key)
		if !found {
			log.Emit(logger.WARNING, "Dropping update push for unknown device %s\n", key)
			return
		}

		hub.broadcast(TitleDeviceUpdate, devices.NewDto(device))
	case event.DEVICE_REMOVED:
		if key, ok := update.Payload.(string); ok {
			hub.broadcast(TitleDeviceGone, map[string]any{"key": key})
		}
	case event.SERVER_UPDATED:
		hub.broadcast(TitleServerUpdate, server.NewDto(hub.sensor))
	}
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"payload": update},
		Type:  websocket.Update,
	})
}

// ** Websocket command handlers ** //

// wsDeviceIndex replies with the full device entity list.
func (hub *broadcaster) wsDeviceIndex(socketHub *websocket.SocketHub, message *websocket.SocketMessage) error {
	deviceList := hub.deviceStore.Devices()
	dtos := make([]*devices.Dto, len(deviceList))
	for idx, device := range deviceList {
		dtos[idx] = devices.NewDto(device)
	}

	socketHub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"payload": dtos}, websocket.Response))
	return nil
}

// wsServerStatus replies with the server sensor entity.
func (hub *broadcaster) wsServerStatus(socketHub *websocket.SocketHub, message *websocket.SocketMessage) error {
	socketHub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"payload": server.NewDto(hub.sensor)}, websocket.Response))
	return nil
}

// wsDeviceCommand executes a transport command against a device on
// behalf of a connected client.
func (hub *broadcaster) wsDeviceCommand(socketHub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"key": "string", "command": "string"}); err != nil {
		return err
	}

	var args deviceCommandArgs
	if err := mapstructure.WeakDecode(message.Body, &args); err != nil {
		return fmt.Errorf("failed to decode device command arguments: %w", err)
	}

	device, found := hub.deviceStore.Device(args.Key)
	if !found {
		return fmt.Errorf("no device with key '%s'", args.Key)
	}

	ctx := context.Background()

	var err error
	switch args.Command {
	case "play":
		err = device.Play(ctx)
	case "pause":
		err = device.Pause(ctx)
	case "stop":
		err = device.Stop(ctx)
	case "next":
		err = device.NextTrack(ctx)
	case "previous":
		err = device.PreviousTrack(ctx)
	case "seek":
		if args.Position == nil {
			return errors.New("seek command requires a 'position' argument")
		}
		err = device.Seek(ctx, *args.Position)
	default:
		return fmt.Errorf("command '%s' is not recognized", args.Command)
	}

	if err != nil {
		return err
	}

	socketHub.Send(message.FormReply("COMMAND_SUCCESS", nil, websocket.Response))
	return nil
}
