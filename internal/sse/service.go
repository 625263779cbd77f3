package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

const clientBuffer = 32

// Event represents a server-sent event
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HeartbeatEvent is the payload of a "heartbeat" event.
type HeartbeatEvent struct {
	ControllerID uuid.UUID `json:"controller_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// Client represents a connected SSE client. A nil Scope receives every
// enterprise's events.
type Client struct {
	ID     string
	UserID uuid.UUID
	Scope  *uuid.UUID
	Events chan Event

	dropped atomic.Int64
}

// Service fans heartbeat events out to connected clients
type Service struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewService creates a new SSE service
func NewService() *Service {
	return &Service{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a subscriber.
func (s *Service) AddClient(userID uuid.UUID, scope *uuid.UUID) *Client {
	client := &Client{
		ID:     fmt.Sprintf("%s-%d", userID.String(), time.Now().UnixNano()),
		UserID: userID,
		Scope:  scope,
		Events: make(chan Event, clientBuffer),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	metrics.SSEClients.Inc()

	logging.InfoWithComponent(logging.ComponentSSE, "Client connected", "client_id", client.ID)
	return client
}

// RemoveClient removes a client connection
func (s *Service) RemoveClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[clientID]; exists {
		delete(s.clients, clientID)
		metrics.SSEClients.Dec()
		logging.InfoWithComponent(logging.ComponentSSE, "Client disconnected", "client_id", clientID)
	}
}

// PublishHeartbeat delivers a heartbeat to every client allowed to see
// enterpriseID. Slow clients drop events rather than block the publisher;
// their poll fallback catches up.
func (s *Service) PublishHeartbeat(enterpriseID *uuid.UUID, hb HeartbeatEvent) {
	event := Event{Type: "heartbeat", Data: hb}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.Scope != nil && (enterpriseID == nil || *client.Scope != *enterpriseID) {
			continue
		}
		s.offer(client, event)
	}
}

func (s *Service) offer(client *Client, event Event) {
	select {
	case client.Events <- event:
	default:
		client.dropped.Add(1)
		logging.DebugWithComponent(logging.ComponentSSE, "Dropped event for slow client", "client_id", client.ID, "type", event.Type)
	}
}

// Stream writes client's events to w until ctx ends. The caller removes
// the client afterwards.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, client *Client) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := write(w, Event{Type: "connected", Data: map[string]interface{}{"timestamp": time.Now().UTC()}}); err != nil {
		return err
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-client.Events:
			if err := write(w, event); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func write(w http.ResponseWriter, event Event) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, eventData)
	return err
}

// KeepAlive sends periodic keep-alive events to maintain connections
func (s *Service) KeepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := Event{Type: "ping", Data: map[string]interface{}{"timestamp": time.Now().UTC()}}
			s.mu.RLock()
			for _, client := range s.clients {
				s.offer(client, ping)
			}
			s.mu.RUnlock()
		}
	}
}

// GetClientCount returns the number of connected clients
func (s *Service) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

var globalSSEService *Service
var globalOnce sync.Once

// GetSSEService returns the process-wide SSE service
func GetSSEService() *Service {
	globalOnce.Do(func() { globalSSEService = NewService() })
	return globalSSEService
}
