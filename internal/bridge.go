package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/koying/jellyfin-ha/internal/activity"
	"github.com/koying/jellyfin-ha/internal/api"
	"github.com/koying/jellyfin-ha/internal/database"
	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/library"
	"github.com/koying/jellyfin-ha/internal/metrics"
	"github.com/koying/jellyfin-ha/internal/session"
	"github.com/koying/jellyfin-ha/pkg/logger"
)

var log = logger.Get("Core")

type RunnableService interface {
	Run(context.Context) error
}

// bridgeImpl represents the top-level object for the bridge, and is
// responsible for initialising the Jellyfin connection, the entity
// layer, persistence and the REST gateway.
type bridgeImpl struct {
	eventBus event.EventCoordinator
	config   BridgeConfig

	client         *jellyfin.Client
	sessionFeed    *jellyfin.SessionFeed
	sessionManager *session.Manager
	libraryService *library.Service
}

func New(config BridgeConfig) *bridgeImpl {
	log.Emit(logger.DEBUG, "Bootstrapping bridge services using config: %#v\n", config)
	bridge := &bridgeImpl{
		eventBus: event.New(),
		config:   config,
	}

	if client, err := jellyfin.NewClient(config.Jellyfin); err == nil {
		bridge.client = client
	} else {
		panic(fmt.Sprintf("failed to construct Jellyfin client due to error: %s", err.Error()))
	}

	bridge.sessionFeed = jellyfin.NewSessionFeed(bridge.client)
	bridge.sessionManager = session.NewManager(config.Session, bridge.client, bridge.sessionFeed.Sessions(), bridge.eventBus)
	bridge.libraryService = library.New(config.Library, bridge.client, bridge.eventBus)

	return bridge
}

// Run will start the bridge by bringing up all required services and
// connections, such as:
// - Database connection
// - Jellyfin authentication
// - Session feed, entity manager and sensor
// - Activity recorder
// - REST gateway
//
// This function will not return until the bridge is stopped. To stop
// the bridge, the provided context must be cancelled. Errors from which
// the bridge cannot recover will also cause it to stop.
func (bridge *bridgeImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(bridge.config.Database); err != nil {
		return err
	}

	log.Emit(logger.NEW, "Authenticating with Jellyfin server...\n")
	if err := bridge.client.Connect(ctx); err != nil {
		return err
	}

	activityStore := activity.NewStore(db)
	sensor := session.NewSensor(bridge.config.Session, bridge.client, bridge.sessionManager, bridge.eventBus, activityStore)
	recorder := activity.NewRecorder(activityStore, bridge.sessionManager, bridge.eventBus)
	collector := metrics.NewBridgeCollector(sensor, bridge.sessionManager)

	restGateway := api.NewRestGateway(
		&bridge.config.Rest,
		bridge.eventBus,
		bridge.sessionManager,
		sensor,
		bridge.libraryService,
		bridge.libraryService,
		activityStore,
		collector,
	)

	wg := &sync.WaitGroup{}
	bridge.spawnAsyncService(ctx, wg, bridge.sessionFeed, "session-feed", crashHandler)
	bridge.spawnAsyncService(ctx, wg, bridge.sessionManager, "session-manager", crashHandler)
	bridge.spawnAsyncService(ctx, wg, sensor, "server-sensor", crashHandler)
	bridge.spawnAsyncService(ctx, wg, recorder, "activity-recorder", crashHandler)
	bridge.spawnAsyncService(ctx, wg, restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Bridge services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the bridge service waitgroup is updated correctly
func (bridge *bridgeImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
