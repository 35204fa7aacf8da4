// Package dashboard: event handling and message formatting.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/agrosync/harvest/internal/engine"
)

// Handler bridges engine events to the WebSocket server. It implements
// engine.EventSink.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// SyncStarted handles sync cycle start events.
func (h *Handler) SyncStarted() {
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStarted,
		Timestamp: time.Now(),
	})
}

// SyncCompleted handles sync cycle completion events.
func (h *Handler) SyncCompleted(result engine.SyncResult, err error) {
	data := SyncCompleteData{
		OK:              err == nil,
		Uploaded:        result.Uploaded,
		Failed:          result.Failed,
		Remaining:       result.Remaining,
		Aborted:         result.Aborted,
		SnapshotRecords: result.SnapshotRecords,
		Duration:        result.Duration,
	}
	if err != nil {
		data.Error = err.Error()
	}

	h.server.recordSync(data)

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// QueueChanged broadcasts the new outbox depth after a local enqueue or
// discard.
func (h *Handler) QueueChanged(depth int) {
	dataJSON, err := json.Marshal(QueueUpdateData{Depth: depth})
	if err != nil {
		h.logger.Printf("Failed to marshal queue data: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeQueueUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
