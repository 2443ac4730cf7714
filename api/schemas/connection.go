package schemas

import "time"

// ConnectionStatus is the Session Manager state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// ConnectionState is the process-wide connection record owned by the Session Manager.
type ConnectionState struct {
	Status    ConnectionStatus `json:"status"`
	Attempt   int              `json:"attempt"`
	LastError string           `json:"lastError,omitempty"`
	URL       string           `json:"url,omitempty"`
	// ConnectionID changes every time a socket is established.
	ConnectionID string    `json:"connectionId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Settings is the persisted user-facing configuration snapshot.
type Settings struct {
	AutoConnect bool   `json:"autoConnect"`
	WSURL       string `json:"wsUrl"`
}

// Keys of the durable local mirror. Values are written for UI consumption.
const (
	KeyConnectionStatus = "connectionStatus"
	KeyConnectionData   = "connectionData"
	KeyTaskQueue        = "taskQueue"
	KeyLastUpdated      = "lastUpdated"
	KeySettings         = "settings"
)

// -- UI Events --

// EventType names a broadcast event delivered to UI listeners.
type EventType string

const (
	EventConnectionState EventType = "connection_state"
	EventTaskQueue       EventType = "task_queue"
	// EventRequestResult answers a control request to the client that sent it.
	EventRequestResult EventType = "request_result"
)

// RequestResult is the payload of EventRequestResult.
type RequestResult struct {
	Request string `json:"request"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Event is the envelope broadcast to UI listeners.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}
