package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/koying/jellyfin-ha/pkg/logger"
	"github.com/koying/jellyfin-ha/pkg/worker"
)

var log = logger.Get("Activity")

type (
	// deviceIndex is the slice of the session manager the recorder
	// needs to resolve event payloads back to devices.
	deviceIndex interface {
		Device(key string) (*session.Device, bool)
	}

	// activitySink is where drained records land; satisfied by Store.
	activitySink interface {
		Upsert(record *Activity) error
	}

	// playbackCursor remembers which activity row a device is currently
	// writing to, so repeated updates for the same item refresh one row
	// instead of inserting a new one each time.
	playbackCursor struct {
		rowID     uuid.UUID
		itemID    string
		startedAt time.Time
	}

	// Recorder listens for device updates on the bus and persists
	// playback transitions through a worker pool, keeping event
	// dispatch decoupled from database latency.
	Recorder struct {
		store   activitySink
		devices deviceIndex
		pool    *worker.WorkerPool

		mutex   sync.Mutex
		queue   []Activity
		cursors map[string]*playbackCursor
	}
)

const recorderWorkerCount = 2

func NewRecorder(store activitySink, devices deviceIndex, eventBus event.EventHandler) *Recorder {
	recorder := &Recorder{
		store:   store,
		devices: devices,
		pool:    worker.NewWorkerPool(),
		cursors: make(map[string]*playbackCursor),
	}

	eventBus.RegisterHandlerFunction(event.DEVICE_UPDATED, recorder.handleDeviceUpdate)
	eventBus.RegisterHandlerFunction(event.DEVICE_REMOVED, recorder.handleDeviceUpdate)

	return recorder
}

// Run drains the record queue through the worker pool until the
// context is cancelled.
func (recorder *Recorder) Run(ctx context.Context) error {
	for idx := 0; idx < recorderWorkerCount; idx++ {
		if err := recorder.pool.PushWorker(worker.NewWorker(fmt.Sprintf("activity:%d", idx), recorder.drain)); err != nil {
			return err
		}
	}

	if err := recorder.pool.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	recorder.pool.Close()

	return nil
}

// handleDeviceUpdate maps a device event to an activity row and
// enqueues it. Devices with nothing playing close their cursor so the
// next playback opens a fresh row.
func (recorder *Recorder) handleDeviceUpdate(_ event.Event, payload event.Payload) {
	key, ok := payload.(string)
	if !ok {
		return
	}

	device, ok := recorder.devices.Device(key)
	if !ok {
		return
	}

	itemID := device.MediaID()

	recorder.mutex.Lock()
	if itemID == "" || !device.IsActive() {
		delete(recorder.cursors, key)
		recorder.mutex.Unlock()
		return
	}

	cursor, exists := recorder.cursors[key]
	if !exists || cursor.itemID != itemID {
		cursor = &playbackCursor{rowID: uuid.New(), itemID: itemID, startedAt: time.Now()}
		recorder.cursors[key] = cursor
	}

	now := time.Now()
	recorder.queue = append(recorder.queue, Activity{
		ID:            cursor.rowID,
		DeviceKey:     key,
		UserName:      device.UserName(),
		ItemID:        itemID,
		ItemTitle:     device.MediaTitle(),
		ItemType:      device.MediaType(),
		SeriesName:    device.MediaSeriesTitle(),
		SeasonNumber:  device.MediaSeason(),
		EpisodeNumber: device.MediaEpisode(),
		State:         string(device.State()),
		PositionTicks: jellyfin.SecondsToTicks(device.MediaPositionSeconds()),
		RuntimeTicks:  jellyfin.SecondsToTicks(device.MediaRuntimeSeconds()),
		StartedAt:     cursor.startedAt,
		UpdatedAt:     now,
	})
	recorder.mutex.Unlock()

	// Before Run starts the pool rejects wakeups; the queued record is
	// picked up when the workers begin draining.
	if err := recorder.pool.WakeupWorkers(); err != nil {
		log.Emit(logger.DEBUG, "Skipping worker wakeup for device %s: %v\n", key, err)
	}
}

// drain is the worker task: pop one queued record and persist it.
func (recorder *Recorder) drain(worker.Worker) (bool, error) {
	record, ok := recorder.pop()
	if !ok {
		return false, nil
	}

	if err := recorder.store.Upsert(&record); err != nil {
		log.Emit(logger.ERROR, "Failed to persist activity for device %s: %v\n", record.DeviceKey, err)
	}

	return true, nil
}

func (recorder *Recorder) pop() (Activity, bool) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()

	if len(recorder.queue) == 0 {
		return Activity{}, false
	}

	record := recorder.queue[0]
	recorder.queue = recorder.queue[1:]

	return record, true
}

// QueueLength reports how many records are waiting to be persisted.
func (recorder *Recorder) QueueLength() int {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()

	return len(recorder.queue)
}
