// internal/service/card_session.go
package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/protocol"
)

const sessionEventBuffer = 64

// CardSession is one running card operation hosted by CardService. Its
// events stream ends with a close event once the session is finished.
type CardSession struct {
	ID        uuid.UUID
	Operation model.OperationKind
	Data      string
	Amount    int64
	ClientID  string
	StartedAt time.Time

	service    *CardService
	controller *CardOperationController
	manager    *protocol.ConnectionManager
	logger     *zap.Logger

	events     chan model.SessionEvent
	done       chan struct{}
	finishOnce sync.Once

	mu     sync.Mutex
	closed bool
	result *model.CardResult
}

func newCardSession(
	service *CardService,
	id uuid.UUID,
	kind model.OperationKind,
	req *StartSessionRequest,
	manager *protocol.ConnectionManager,
	logger *zap.Logger,
) *CardSession {
	return &CardSession{
		ID:        id,
		Operation: kind,
		Data:      req.Data,
		Amount:    req.Amount,
		ClientID:  req.ClientID,
		StartedAt: time.Now(),
		service:   service,
		manager:   manager,
		logger:    logger.With(zap.String("session_id", id.String())),
		events:    make(chan model.SessionEvent, sessionEventBuffer),
		done:      make(chan struct{}),
	}
}

// Events streams state, notification, result and close events
func (s *CardSession) Events() <-chan model.SessionEvent {
	return s.events
}

// Done is closed when the session has finished
func (s *CardSession) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the current observable state
func (s *CardSession) Snapshot() model.SessionSnapshot {
	return s.controller.Snapshot()
}

// ConnectionStats returns the reader connection statistics
func (s *CardSession) ConnectionStats() protocol.ConnectionStats {
	return s.manager.Stats()
}

// Confirm accepts the current result
func (s *CardSession) Confirm() {
	s.controller.Confirm()
}

// Cancel abandons the session
func (s *CardSession) Cancel() {
	s.controller.Cancel()
}

// Retry restarts the operation after an error
func (s *CardSession) Retry() {
	s.controller.Retry()
}

// Close ends the session without delivering a result, e.g. when the client
// goes away
func (s *CardSession) Close() {
	s.finish()
}

// Notify implements Notifier by forwarding to the event stream
func (s *CardSession) Notify(notification model.Notification) {
	s.logger.Info("Session notification",
		zap.String("level", notification.Level),
		zap.String("message", notification.Message),
	)
	s.emit(model.SessionEventNotification, notification)
}

func (s *CardSession) handleStateChange(snapshot model.SessionSnapshot) {
	s.emit(model.SessionEventState, snapshot)
}

func (s *CardSession) handleResult(result *model.CardResult) {
	s.mu.Lock()
	s.result = result
	s.mu.Unlock()

	s.emit(model.SessionEventResult, result)
	s.finish()
}

func (s *CardSession) handleClose() {
	s.finish()
}

// finish disposes the controller, frees the service slot, ends the event
// stream and records the session. Only the first call has any effect.
func (s *CardSession) finish() {
	s.finishOnce.Do(func() {
		snapshot := s.controller.Snapshot()
		s.controller.Dispose()
		s.service.release(s)

		s.emit(model.SessionEventClose, snapshot)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		result := s.result
		s.mu.Unlock()
		close(s.done)

		operation := s.buildRecord(snapshot, result)
		s.service.wg.Add(1)
		go func() {
			defer s.service.wg.Done()
			s.controller.Wait()
			s.manager.Close()
			s.service.record(operation)
		}()
	})
}

func (s *CardSession) buildRecord(snapshot model.SessionSnapshot, result *model.CardResult) *model.CardOperation {
	completedAt := time.Now()
	operation := &model.CardOperation{
		ID:          uuid.New(),
		SessionID:   s.ID,
		Operation:   s.Operation,
		StartedAt:   s.StartedAt,
		CompletedAt: completedAt,
		DurationMs:  int(completedAt.Sub(s.StartedAt).Milliseconds()),
	}

	switch snapshot.ScanningState {
	case model.ScanningSuccess:
		operation.Status = model.OperationStatusSuccess
	case model.ScanningError:
		operation.Status = model.OperationStatusFailed
		message := snapshot.ErrorMessage
		operation.ErrorMessage = &message
	default:
		operation.Status = model.OperationStatusCancelled
	}

	if result == nil {
		result = snapshot.Result
	}
	if result != nil {
		if result.TID != "" {
			tid := result.TID
			operation.CardTID = &tid
		}
		obj, err := model.ToJSONObject(result)
		if err != nil {
			s.logger.Warn("Failed to encode session result", zap.Error(err))
		} else {
			operation.Result = obj
		}
	}

	switch s.Operation {
	case model.OperationPayment:
		amount := s.Amount
		operation.Amount = &amount
	case model.OperationWrite:
		data := s.Data
		operation.Data = &data
	}
	if s.ClientID != "" {
		clientID := s.ClientID
		operation.ClientID = &clientID
	}

	return operation
}

func (s *CardSession) emit(eventType model.SessionEventType, data interface{}) {
	event := model.SessionEvent{
		Type:      eventType,
		SessionID: s.ID,
		Data:      data,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("Session event dropped, client is not reading",
			zap.String("event_type", string(eventType)),
		)
	}
}
