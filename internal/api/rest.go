package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mediafetch/internal/api/jobs"
	"mediafetch/internal/logger"
)

var log = logger.Get("API")

// AccessTokenHeader carries the shared access token when one is configured.
const AccessTokenHeader = "X-Access-Token"

type (
	RestConfig struct {
		HostAddr    string
		AccessToken string
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. It exposes
	// the job routes and enforces the optional access token.
	RestGateway struct {
		config        *RestConfig
		ec            *echo.Echo
		jobController *jobs.Controller
	}
)

// NewRestGateway constructs the Echo router and registers every route.
func NewRestGateway(config *RestConfig, service jobs.Service) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:        config,
		ec:            ec,
		jobController: jobs.New(validator.New(), service),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + AccessTokenHeader,
		Skipper: func(c echo.Context) bool {
			return config.AccessToken == "" || c.Path() == "/healthz"
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(config.AccessToken)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid or missing access token")
		},
	}))

	ec.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	gateway.jobController.SetRoutes(ec)

	return gateway
}

// ServeHTTP lets the gateway be driven directly by an http.Server or a test.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (gateway *RestGateway) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		log.Emit(logger.INFO, "Listening on %s\n", gateway.config.HostAddr)
		errChan <- gateway.ec.Start(gateway.config.HostAddr)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Emit(logger.STOP, "Shutting down HTTP server\n")
		return gateway.ec.Shutdown(shutdownCtx)
	}
}
