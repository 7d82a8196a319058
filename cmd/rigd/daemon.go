package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rigd-project/rigd/pkg/audio"
	"github.com/rigd-project/rigd/pkg/config"
	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/metrics"
	"github.com/rigd-project/rigd/pkg/protocol"
	"github.com/rigd-project/rigd/pkg/radio"
	"github.com/rigd-project/rigd/pkg/storage"
)

// RigDaemon wires the connection layer to the web API, the event stream,
// the history store and the metrics registry.
type RigDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	manager   *radio.Manager
	store     *storage.HistoryStore
	monitor   *audio.Monitor
	metrics   *metrics.Metrics
	webServer *http.Server
	hub       *eventHub

	startTime time.Time
}

// NewRigDaemon creates a new daemon instance
func NewRigDaemon(cfg *config.Config) (*RigDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &RigDaemon{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   metrics.New(),
		hub:       newEventHub(),
		startTime: time.Now(),
	}

	if cfg.Monitor.Enabled {
		daemon.monitor = audio.NewMonitor(cfg.Monitor.SampleRate, cfg.Monitor.FFTSize)
	}

	store, err := storage.NewHistoryStore(
		cfg.Storage.DatabasePath,
		cfg.Storage.MaxEvents,
		time.Duration(cfg.Storage.RetainMeters)*time.Hour,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	daemon.store = store

	opts := radio.ManagerOptions{}
	if daemon.monitor != nil {
		opts.AudioSink = daemon.monitor.Feed
	}
	daemon.manager = radio.NewManager(opts)
	daemon.manager.SetEventHandler(daemon.handleEvent)

	if err := daemon.setupWebServer(); err != nil {
		store.Close()
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the daemon
func (d *RigDaemon) Start() error {
	// Apply the configured radio; a dead rig at boot is not fatal, the
	// manager keeps retrying in the background
	if err := d.manager.ApplyConfig(d.config.Radio); err != nil {
		logging.Warnf("daemon", "initial radio connect: %v", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
		logging.Infof("daemon", "starting web server on %s", addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "web server error: %v", err)
		}
	}()

	d.wg.Add(1)
	go d.stateMetricLoop()

	return nil
}

// Stop stops the daemon gracefully
func (d *RigDaemon) Stop() error {
	logging.Info("daemon", "stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "web server shutdown error: %v", err)
		}
	}

	d.manager.Close()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logging.Warnf("daemon", "history store close error: %v", err)
		}
	}

	d.wg.Wait()

	logging.Info("daemon", "daemon stopped")
	return nil
}

// handleEvent is the manager's single subscriber: it records history,
// updates metrics and fans out to the websocket clients.
func (d *RigDaemon) handleEvent(ev radio.Event) {
	d.metrics.ObserveEvent(ev)

	switch ev.Kind {
	case radio.EventConnected, radio.EventDisconnected, radio.EventError:
		detail := ev.Reason
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		if err := d.store.RecordEvent(ev.Kind.String(), detail); err != nil {
			logging.Warnf("daemon", "failed to record event: %v", err)
		}
	case radio.EventMeterData:
		if err := d.store.RecordMeters(ev.Meters); err != nil {
			logging.Warnf("daemon", "failed to record meters: %v", err)
		}
	}

	d.hub.broadcast(protocol.FromEvent(ev))
}

// stateMetricLoop keeps the state gauge current; transitions that emit no
// public event (CONNECTING, RECONNECTING) are picked up here.
func (d *RigDaemon) stateMetricLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := radio.StateDisconnected
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			state := d.manager.State()
			if state != last {
				d.metrics.ObserveState(state)
				last = state
			}
		}
	}
}

// setupWebServer initializes the web server and routes
func (d *RigDaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/radio", d.handleGetRadio)
		api.PUT("/radio/config", d.handleApplyConfig)
		api.GET("/radio/frequency", d.handleGetFrequency)
		api.PUT("/radio/frequency", d.handleSetFrequency)
		api.GET("/radio/mode", d.handleGetMode)
		api.PUT("/radio/mode", d.handleSetMode)
		api.POST("/radio/ptt", d.handleSetPTT)
		api.GET("/radio/meters", d.handleGetMeters)
		api.GET("/radio/tuner", d.handleGetTuner)
		api.POST("/radio/tuner", d.handleSetTuner)
		api.POST("/radio/reconnect", d.handleReconnect)
		api.POST("/radio/disconnect", d.handleDisconnect)
		api.GET("/events", d.handleGetEvents)
		api.GET("/meters/history", d.handleGetMeterHistory)
		api.GET("/audio", d.handleGetAudio)
	}

	router.GET("/ws/events", d.handleEventWebSocket)
	router.GET("/metrics", metricsHandler())

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
