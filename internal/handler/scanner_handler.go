// internal/handler/scanner_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ticket-service/internal/model"
	"ticket-service/internal/utils"
)

// ScannerMonitor exposes the state of the serial scanner subsystem
type ScannerMonitor interface {
	Status() *model.ScannerStatus
	IsHealthy() bool
}

// ScannerHandler reports the scanner subsystem status
type ScannerHandler struct {
	scanner ScannerMonitor
}

// NewScannerHandler creates a new scanner handler
func NewScannerHandler(scanner ScannerMonitor) *ScannerHandler {
	return &ScannerHandler{scanner: scanner}
}

// RegisterRoutes registers scanner routes
func (h *ScannerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/scanner/status", h.GetStatus)
}

// GetStatus returns the scanner state, port and counters
// @Summary Scanner status
// @Tags Scanner
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.ScannerStatus} "Scanner status"
// @Router /scanner/status [get]
func (h *ScannerHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanner status retrieved", h.scanner.Status())
}
