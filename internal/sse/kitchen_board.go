package sse

import (
	"context"
	"sync"

	"ms-fulfillment/internal/models"
)

const clientBuffer = 16

// KitchenBoardEmitter fans ticket events out to connected board screens,
// optionally filtered by station.
type KitchenBoardEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.TicketEvent
}

func NewKitchenBoardEmitter() *KitchenBoardEmitter {
	return &KitchenBoardEmitter{
		clients: make(map[string][]chan models.TicketEvent),
	}
}

// Subscribe registers a client for a station ("" for every station). The
// channel is closed once ctx is done.
func (e *KitchenBoardEmitter) Subscribe(ctx context.Context, station string) <-chan models.TicketEvent {
	clientChan := make(chan models.TicketEvent, clientBuffer)

	e.mu.Lock()
	e.clients[station] = append(e.clients[station], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(station, clientChan)
	}()

	return clientChan
}

// Emit never blocks. Slow clients miss events and catch up on their next
// poll of the active list.
func (e *KitchenBoardEmitter) Emit(event models.TicketEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	send(e.clients[""], event)
	if event.Station != "" {
		send(e.clients[event.Station], event)
	}
}

func send(clients []chan models.TicketEvent, event models.TicketEvent) {
	for _, clientChan := range clients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

// PublishTicketEvent lets the emitter stand in for Kafka on a single node.
func (e *KitchenBoardEmitter) PublishTicketEvent(_ context.Context, event models.TicketEvent) error {
	e.Emit(event)
	return nil
}

func (e *KitchenBoardEmitter) remove(station string, clientChan chan models.TicketEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[station]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[station] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[station]) == 0 {
		delete(e.clients, station)
	}
}

// ClientCount returns the number of clients subscribed to a station key.
func (e *KitchenBoardEmitter) ClientCount(station string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[station])
}
