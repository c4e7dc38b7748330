// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"card-service/internal/model"
)

// EventBus fans session events out to monitor clients
type EventBus struct {
	subscribers map[string]chan model.SessionEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string]chan model.SessionEvent),
		logger:      logger,
	}
}

// Publish delivers event to every subscriber without blocking
func (eb *EventBus) Publish(event model.SessionEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for id, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
			eb.logger.Warn("Event subscriber full, dropping event",
				zap.String("subscriber_id", id),
				zap.String("event_type", string(event.Type)),
			)
		}
	}
}

// Subscribe registers a subscriber under id
func (eb *EventBus) Subscribe(id string) <-chan model.SessionEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.SessionEvent, 100)
	eb.subscribers[id] = subscriber
	return subscriber
}

// Unsubscribe removes the subscriber and closes its channel
func (eb *EventBus) Unsubscribe(id string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if subscriber, ok := eb.subscribers[id]; ok {
		delete(eb.subscribers, id)
		close(subscriber)
	}
}

// SubscriberCount returns the number of subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}
