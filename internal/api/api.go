// Package api contains the API server.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mediamerge/internal/conf"
	"github.com/bluenviron/mediamerge/internal/httpp"
	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/merge"
)

// ErrNoMerge is returned when no merge has been started.
var ErrNoMerge = errors.New("no merge has been started")

// Info is the response of /info.
type Info struct {
	Version string    `json:"version"`
	Started time.Time `json:"started"`
}

// Error is the response in case of errors.
type Error struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// OK is the response of actions.
type OK struct {
	Status string `json:"status"`
}

type apiMergeManager interface {
	APIMergeStatus() (merge.Status, error)
	APIMergeStop() error
}

type apiParent interface {
	logger.Writer
}

// API is an API server.
type API struct {
	Version      string
	Started      time.Time
	Address      string
	ReadTimeout  conf.Duration
	WriteTimeout conf.Duration
	MergeManager apiMergeManager
	Parent       apiParent

	httpServer *httpp.Server
}

// Initialize initializes API.
func (a *API) Initialize() error {
	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	group := router.Group("/v1")

	group.GET("/info", a.onInfo)
	group.GET("/merge/status", a.onMergeStatus)
	group.POST("/merge/stop", a.onMergeStop)

	a.httpServer = &httpp.Server{
		Address:      a.Address,
		ReadTimeout:  time.Duration(a.ReadTimeout),
		WriteTimeout: time.Duration(a.WriteTimeout),
		Handler:      router,
		Parent:       a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on "+a.Address)

	return nil
}

// Close closes the API.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...interface{}) {
	a.Parent.Log(level, "[api] "+format, args...)
}

func (a *API) writeError(ctx *gin.Context, status int, err error) {
	// show error in logs
	a.Log(logger.Error, err.Error())

	// add error to response
	ctx.JSON(status, &Error{
		Status: "error",
		Error:  err.Error(),
	})
}

func (a *API) writeOK(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &OK{Status: "ok"})
}

func (a *API) onInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &Info{
		Version: a.Version,
		Started: a.Started,
	})
}

func (a *API) onMergeStatus(ctx *gin.Context) {
	status, err := a.MergeManager.APIMergeStatus()
	if err != nil {
		if errors.Is(err, ErrNoMerge) {
			a.writeError(ctx, http.StatusNotFound, err)
		} else {
			a.writeError(ctx, http.StatusInternalServerError, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, status)
}

func (a *API) onMergeStop(ctx *gin.Context) {
	err := a.MergeManager.APIMergeStop()
	if err != nil {
		if errors.Is(err, ErrNoMerge) {
			a.writeError(ctx, http.StatusNotFound, err)
		} else {
			a.writeError(ctx, http.StatusInternalServerError, err)
		}
		return
	}

	a.writeOK(ctx)
}
