// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"card-service/internal/config"
	"card-service/internal/protocol"
	"card-service/internal/service"
	"card-service/internal/utils"
)

// DiscoveryHandler reports the configured card reader and the ports a reader
// could be attached to
type DiscoveryHandler struct {
	config      *config.DeviceConfig
	cardService *service.CardService
	listPorts   func() ([]string, error)
	logger      *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(cfg *config.DeviceConfig, cardService *service.CardService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		config:      cfg,
		cardService: cardService,
		listPorts:   protocol.ListSerialPorts,
		logger:      utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// ReaderInfo describes the configured card reader
type ReaderInfo struct {
	Transport  string                    `json:"transport"`
	Endpoint   string                    `json:"endpoint"`
	Handshake  string                    `json:"handshake"`
	Busy       bool                      `json:"busy"`
	Connection *protocol.ConnectionStats `json:"connection,omitempty"`
}

// GetReader returns the configured reader and its live connection, if any
// @Summary Get card reader
// @Description Get the configured card reader transport and the connection of the running session
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ReaderInfo}
// @Router /api/v1/reader [get]
func (h *DiscoveryHandler) GetReader(c *gin.Context) {
	transport := service.TransportConfigFromDevice(h.config)
	info := &ReaderInfo{
		Transport: string(transport.Type),
		Endpoint:  h.config.Endpoint,
		Handshake: h.config.Handshake,
	}

	if session := h.cardService.CurrentSession(); session != nil {
		stats := session.ConnectionStats()
		info.Busy = true
		info.Connection = &stats
	}

	utils.SuccessResponse(c, http.StatusOK, "Card reader retrieved", info)
}

// ScanSerialPorts lists serial ports a reader may be attached to
// @Summary Scan serial ports
// @Description List the serial ports of this machine; USB readers appear as virtual COM ports
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]string}} "Serial port scan completed"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /api/v1/reader/ports [get]
func (h *DiscoveryHandler) ScanSerialPorts(c *gin.Context) {
	ports, err := h.listPorts()
	if err != nil {
		h.logger.Error("Failed to scan serial ports", zap.Error(err))
		utils.CodedErrorResponse(c, http.StatusInternalServerError, utils.CodeReaderScan, "Failed to scan serial ports", err)
		return
	}
	if ports == nil {
		ports = []string{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}
