package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonas747/shardbench/orchestrator"
	"github.com/pkg/errors"
)

var ErrNoReport = errors.New("no run has finished yet")

func (ra *RESTAPI) handleGETStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ra.orchestrator.Status())
}

func (ra *RESTAPI) handleGETReport(c *gin.Context) {
	report := ra.orchestrator.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, &BasicResponse{Error: true, Message: ErrNoReport.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

type BasicResponse struct {
	Message string
	Error   bool
}

func sendBasicResponse(c *gin.Context, err error, successMessage string) {
	status := http.StatusOK
	var resp interface{}

	if err != nil {
		resp = &BasicResponse{
			Error:   true,
			Message: err.Error(),
		}
		status = http.StatusInternalServerError
		if err == orchestrator.ErrRunInProgress {
			status = http.StatusConflict
		}
	} else {
		resp = &BasicResponse{
			Message: successMessage,
		}
	}

	c.JSON(status, resp)
}

func (ra *RESTAPI) handlePOSTRun(c *gin.Context) {
	err := ra.orchestrator.Start(ra.runCtx)
	sendBasicResponse(c, err, "started a new run")
}

func (ra *RESTAPI) handlePOSTClear(c *gin.Context) {
	outcomes, err := ra.orchestrator.Clear(c.Request.Context())
	if err != nil {
		sendBasicResponse(c, err, "")
		return
	}

	var deleted int64
	failed := 0
	for _, so := range outcomes {
		deleted += so.Rows
		if !so.OK() {
			failed++
		}
	}

	if failed > 0 {
		sendBasicResponse(c, errors.Errorf("cleared %d users, %d stores failed", deleted, failed), "")
		return
	}

	sendBasicResponse(c, nil, fmt.Sprintf("cleared %d users from %d stores", deleted, len(outcomes)))
}

type CheckResponse struct {
	Stores []orchestrator.StoreOutcome
}

func (ra *RESTAPI) handlePOSTCheck(c *gin.Context) {
	outcomes, err := ra.orchestrator.CheckConnections(c.Request.Context())
	if err != nil {
		sendBasicResponse(c, err, "")
		return
	}

	c.JSON(http.StatusOK, &CheckResponse{Stores: outcomes})
}
