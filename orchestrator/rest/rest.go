// Package rest exposes an orchestrator over http, there is no authentication so keep it on a private interface
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/orchestrator"
	"github.com/pkg/errors"
)

type RESTAPI struct {
	orchestrator *orchestrator.Orchestrator
	addr         string
	engine       *gin.Engine
	srv          *http.Server

	// runs started over the api live as long as this context
	runCtx context.Context
}

// NewRESTAPI sets up the routes, runs started through it are cancelled when runCtx is
func NewRESTAPI(runCtx context.Context, o *orchestrator.Orchestrator, addr string) *RESTAPI {
	gin.SetMode(gin.ReleaseMode)

	ra := &RESTAPI{
		orchestrator: o,
		addr:         addr,
		engine:       gin.New(),
		runCtx:       runCtx,
	}
	ra.engine.Use(gin.Recovery())

	ra.engine.GET("/status", ra.handleGETStatus)
	ra.engine.GET("/report", ra.handleGETReport)
	ra.engine.POST("/run", ra.handlePOSTRun)
	ra.engine.POST("/clear", ra.handlePOSTClear)
	ra.engine.POST("/check", ra.handlePOSTCheck)

	ra.srv = &http.Server{
		Addr:              addr,
		Handler:           ra.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return ra
}

// Handler returns the http handler serving the api
func (ra *RESTAPI) Handler() http.Handler {
	return ra.engine
}

// Run serves the api until Stop is called
func (ra *RESTAPI) Run() error {
	shardbench.LogTo(ra.orchestrator.Logger, shardbench.LogInfo, nil, "rest: listening on "+ra.addr)
	err := ra.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.WithMessage(err, "ListenAndServe")
}

// Stop gracefully shuts down the server
func (ra *RESTAPI) Stop(ctx context.Context) error {
	return ra.srv.Shutdown(ctx)
}
