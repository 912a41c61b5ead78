package api

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/koying/jellyfin-ha/internal/api/activities"
	"github.com/koying/jellyfin-ha/internal/api/devices"
	"github.com/koying/jellyfin-ha/internal/api/medias"
	"github.com/koying/jellyfin-ha/internal/api/server"
	"github.com/koying/jellyfin-ha/internal/api/services"
	"github.com/koying/jellyfin-ha/internal/event"
	"github.com/koying/jellyfin-ha/internal/http/websocket"
	"github.com/koying/jellyfin-ha/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8099"`
		APIToken string `yaml:"api_token" env:"API_TOKEN"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// RestGateway is a thin wrapper around the Echo router. Its sole
	// responsibility is creating the routes the bridge exposes, managing
	// ongoing websocket connections, and enforcing the API token where
	// one is configured.
	RestGateway struct {
		*broadcaster
		config *RestConfig
		ec     *echo.Echo
		socket *websocket.SocketHub

		devicesController    controller
		serverController     controller
		servicesController   controller
		mediasController     controller
		activitiesController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	eventBus event.EventHandler,
	deviceStore devices.Store,
	sensor server.Sensor,
	libraryService services.Library,
	mediaResolver medias.Resolver,
	activityStore activities.Store,
	collector prometheus.Collector,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.NewHub()
	gateway := &RestGateway{
		broadcaster: newBroadcaster(eventBus, socket, deviceStore, sensor),
		config:      config,
		ec:          ec,
		socket:      socket,

		devicesController:    devices.New(validate, deviceStore),
		serverController:     server.New(sensor),
		servicesController:   services.New(validate, libraryService),
		mediasController:     medias.New(mediaResolver),
		activitiesController: activities.New(activityStore),
	}

	socket.BindCommand("DEVICE_INDEX", gateway.wsDeviceIndex)
	socket.BindCommand("DEVICE_COMMAND", gateway.wsDeviceCommand)
	socket.BindCommand("SERVER_STATUS", gateway.wsServerStatus)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	ec.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	ec.GET("/api/jellyfin/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	v1 := ec.Group("/api/jellyfin/v1")
	if config.APIToken != "" {
		v1.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return key == config.APIToken, nil
		}))
	}

	gateway.devicesController.SetRoutes(v1.Group("/devices"))
	gateway.serverController.SetRoutes(v1.Group("/server"))
	gateway.servicesController.SetRoutes(v1.Group("/services"))
	gateway.mediasController.SetRoutes(v1.Group("/media"))
	gateway.activitiesController.SetRoutes(v1.Group("/activity"))

	return gateway
}

// Run starts the HTTP listener, the socket hub and the event
// broadcaster, blocking until the context is cancelled or the listener
// fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.broadcaster.listen(ctx)
	}()

	wg.Wait()

	// Parent context cancellation is a normal shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
