package protocol

import (
	"encoding/json"
	"time"

	"github.com/rigd-project/rigd/pkg/radio"
)

// Response represents an API response envelope
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	Callsign  string              `json:"callsign"`
	Grid      string              `json:"grid"`
	Backend   string              `json:"backend"`
	State     string              `json:"state"`
	Connected bool                `json:"connected"`
	Frequency int64               `json:"frequency"`
	Mode      string              `json:"mode"`
	Bandwidth int                 `json:"bandwidth"`
	Reconnect radio.ReconnectInfo `json:"reconnect"`
	Uptime    string              `json:"uptime"`
	StartTime time.Time           `json:"start_time"`
	Version   string              `json:"version"`
}

// FrequencyRequest sets the operating frequency
type FrequencyRequest struct {
	Frequency int64 `json:"frequency"`
}

// ModeRequest sets the operating mode and passband
type ModeRequest struct {
	Mode      string `json:"mode"`
	Bandwidth int    `json:"bandwidth"`
}

// PTTRequest keys or unkeys the transmitter
type PTTRequest struct {
	Transmit bool `json:"transmit"`
}

// TunerRequest switches the antenna tuner or starts a tune cycle
type TunerRequest struct {
	Enabled bool `json:"enabled"`
	Tune    bool `json:"tune"`
}

// DisconnectRequest carries the operator-supplied reason
type DisconnectRequest struct {
	Reason string `json:"reason"`
}

// WireEvent is the envelope pushed on the websocket event stream
type WireEvent struct {
	Type        string           `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Frequency   int64            `json:"frequency,omitempty"`
	Meters      *radio.MeterData `json:"meters,omitempty"`
	TunerStatus string           `json:"tuner_status,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// FromEvent converts a manager event into its wire form.
func FromEvent(ev radio.Event) WireEvent {
	we := WireEvent{
		Type:      ev.Kind.String(),
		Timestamp: time.Now(),
		Reason:    ev.Reason,
	}
	switch ev.Kind {
	case radio.EventFrequencyChanged:
		we.Frequency = ev.Frequency
	case radio.EventMeterData:
		md := ev.Meters
		we.Meters = &md
	case radio.EventTunerStatusChanged:
		we.TunerStatus = string(ev.TunerStatus)
	case radio.EventError:
		if ev.Err != nil {
			we.Error = ev.Err.Error()
		}
	}
	return we
}

// String converts a Response to its JSON form
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}
