package main

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/protocol"
	"github.com/rigd-project/rigd/pkg/radio"
)

// handleGetStatus reports the daemon and connection status
func (d *RigDaemon) handleGetStatus(c *gin.Context) {
	status := protocol.Status{
		Callsign:  d.config.Station.Callsign,
		Grid:      d.config.Station.Grid,
		Backend:   string(d.config.Radio.Type),
		State:     d.manager.State().String(),
		Connected: d.manager.IsConnected(),
		Reconnect: d.manager.GetReconnectInfo(),
		Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		StartTime: d.startTime,
		Version:   Version,
	}

	if status.Connected {
		if hz, err := d.manager.GetFrequency(); err == nil {
			status.Frequency = hz
		}
		if mode, bw, err := d.manager.GetMode(); err == nil {
			status.Mode = mode
			status.Bandwidth = bw
		}
	}

	c.JSON(http.StatusOK, status)
}

// handleGetRadio reports the static radio info and tuner capabilities
func (d *RigDaemon) handleGetRadio(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"info":  d.manager.GetRadioInfo(),
		"tuner": d.manager.GetTunerCapabilities(),
	})
}

// handleApplyConfig replaces the radio configuration at runtime
func (d *RigDaemon) handleApplyConfig(c *gin.Context) {
	var cfg radio.RadioConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid config: %v", err)})
		return
	}

	if err := d.manager.ApplyConfig(cfg); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, protocol.NewSuccessResponse(gin.H{"state": d.manager.State().String()}))
}

// handleGetFrequency reads the operating frequency
func (d *RigDaemon) handleGetFrequency(c *gin.Context) {
	hz, err := d.manager.GetFrequency()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frequency": hz})
}

// handleSetFrequency sets the operating frequency
func (d *RigDaemon) handleSetFrequency(c *gin.Context) {
	var req protocol.FrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Frequency <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency must be positive"})
		return
	}

	if err := d.manager.SetFrequency(req.Frequency); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(gin.H{"frequency": req.Frequency}))
}

// handleGetMode reads the operating mode and passband
func (d *RigDaemon) handleGetMode(c *gin.Context) {
	mode, bw, err := d.manager.GetMode()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "bandwidth": bw})
}

// handleSetMode sets the operating mode and passband
func (d *RigDaemon) handleSetMode(c *gin.Context) {
	var req protocol.ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Mode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	if err := d.manager.SetMode(req.Mode, req.Bandwidth); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(gin.H{"mode": req.Mode}))
}

// handleSetPTT keys or unkeys the transmitter
func (d *RigDaemon) handleSetPTT(c *gin.Context) {
	var req protocol.PTTRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if err := d.manager.SetPTT(req.Transmit); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(gin.H{"transmit": req.Transmit}))
}

// handleGetMeters reads a fresh telemetry snapshot
func (d *RigDaemon) handleGetMeters(c *gin.Context) {
	md, err := d.manager.ReadMeters()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, md)
}

// handleGetTuner reads the antenna tuner status
func (d *RigDaemon) handleGetTuner(c *gin.Context) {
	caps := d.manager.GetTunerCapabilities()
	if !caps.Supported {
		c.JSON(http.StatusOK, gin.H{"capabilities": caps})
		return
	}
	status, err := d.manager.GetTunerStatus()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"capabilities": caps, "status": status})
}

// handleSetTuner switches the tuner or starts a manual tune cycle
func (d *RigDaemon) handleSetTuner(c *gin.Context) {
	var req protocol.TunerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	var err error
	if req.Tune {
		err = d.manager.StartTuning()
	} else {
		err = d.manager.SetTuner(req.Enabled)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(nil))
}

// handleReconnect forces an immediate reconnect attempt
func (d *RigDaemon) handleReconnect(c *gin.Context) {
	if err := d.manager.ManualReconnect(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(gin.H{"state": d.manager.State().String()}))
}

// handleDisconnect tears the connection down until the next reconnect
func (d *RigDaemon) handleDisconnect(c *gin.Context) {
	var req protocol.DisconnectRequest
	// body is optional
	c.ShouldBindJSON(&req)

	if err := d.manager.Disconnect(req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(nil))
}

// handleGetEvents returns recent connection history
func (d *RigDaemon) handleGetEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := d.store.RecentEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleGetMeterHistory returns telemetry samples from the history store
func (d *RigDaemon) handleGetMeterHistory(c *gin.Context) {
	since := time.Now().Add(-time.Hour)
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}

	samples, err := d.store.MeterHistory(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// handleGetAudio returns the RX audio monitor snapshot
func (d *RigDaemon) handleGetAudio(c *gin.Context) {
	if d.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audio monitor not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot":   d.monitor.TakeSnapshot(),
		"statistics": d.monitor.Statistics(),
	})
}

// metricsHandler wraps the Prometheus handler for gin
func metricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return gin.WrapH(h)
}

// eventHub fans manager events out to the connected websocket clients.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan protocol.WireEvent]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[chan protocol.WireEvent]struct{})}
}

func (h *eventHub) subscribe() chan protocol.WireEvent {
	ch := make(chan protocol.WireEvent, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan protocol.WireEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *eventHub) broadcast(ev protocol.WireEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// slow client loses events rather than stalling the layer
		}
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // single-operator LAN service
	},
}

// handleEventWebSocket streams connection events to a websocket client
func (d *RigDaemon) handleEventWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("daemon", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Info("daemon", "event websocket client connected")

	ch := d.hub.subscribe()
	defer d.hub.unsubscribe(ch)

	// drain client frames so pings are answered and closes are noticed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				logging.Infof("daemon", "event websocket client gone: %v", err)
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}
