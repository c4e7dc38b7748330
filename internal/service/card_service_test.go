// internal/service/card_service_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"card-service/internal/config"
	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/protocol/protocoltest"
	"card-service/internal/repository"
)

type dialerRecorder struct {
	mu      sync.Mutex
	dialers []*protocoltest.MockDialer
	err     error
}

func (d *dialerRecorder) factory() (protocol.Dialer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	dialer := protocoltest.NewMockDialer()
	d.dialers = append(d.dialers, dialer)
	return dialer, nil
}

func (d *dialerRecorder) last() *protocoltest.MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialers) == 0 {
		return nil
	}
	return d.dialers[len(d.dialers)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			Transport:      "websocket",
			Endpoint:       "ws://localhost:62536",
			Handshake:      protocol.CommandHandshake,
			ReconnectDelay: 20 * time.Millisecond,
		},
		Card: config.CardConfig{
			PollInterval:        time.Hour,
			ReadConfirmDelay:    20 * time.Millisecond,
			BalanceConfirmDelay: 20 * time.Millisecond,
			WriteConfirmDelay:   20 * time.Millisecond,
			PaymentConfirmDelay: 20 * time.Millisecond,
			Currency:            "VND",
			HistoryRetention:    time.Hour,
		},
	}
}

func newTestCardService(t *testing.T, customers *fakeCustomerRepo) (*CardService, *fakeOperationRepo, *dialerRecorder) {
	t.Helper()

	if customers == nil {
		customers = newFakeCustomerRepo()
	}
	operations := &fakeOperationRepo{}
	dialers := &dialerRecorder{}

	svc := NewCardService(customers, operations, testConfig(), zap.NewNop(),
		WithDialerFactory(dialers.factory))
	t.Cleanup(svc.Shutdown)

	return svc, operations, dialers
}

// waitOpen waits until the session's command reached the mock reader
func waitOpen(t *testing.T, dialers *dialerRecorder) *protocoltest.MockConn {
	t.Helper()

	var conn *protocoltest.MockConn
	require.Eventually(t, func() bool {
		dialer := dialers.last()
		if dialer == nil {
			return false
		}
		conn = dialer.LastConn()
		return conn != nil && len(conn.Sent()) >= 2
	}, waitFor, tick)
	return conn
}

// drain collects session events until the stream closes
func drain(t *testing.T, session *CardSession) []model.SessionEvent {
	t.Helper()

	var events []model.SessionEvent
	timeout := time.After(waitFor)
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("session event stream did not close")
			return events
		}
	}
}

func eventTypes(events []model.SessionEvent) []model.SessionEventType {
	types := make([]model.SessionEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func waitRecords(t *testing.T, operations *fakeOperationRepo, n int) []*model.CardOperation {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(operations.all()) == n
	}, waitFor, tick)
	return operations.all()
}

func TestCardService_StartSessionValidation(t *testing.T) {
	svc, _, dialers := newTestCardService(t, nil)

	tests := []struct {
		name string
		req  *StartSessionRequest
	}{
		{"nil request", nil},
		{"unknown operation", &StartSessionRequest{Operation: "refund"}},
		{"write without data", &StartSessionRequest{Operation: "write"}},
		{"payment without amount", &StartSessionRequest{Operation: "payment"}},
		{"negative payment", &StartSessionRequest{Operation: "payment", Amount: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := svc.StartSession(context.Background(), tt.req)
			assert.Nil(t, session)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
	assert.Nil(t, dialers.last())
	assert.Nil(t, svc.CurrentSession())
}

func TestCardService_StartSessionCancelledContext(t *testing.T) {
	svc, _, _ := newTestCardService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.StartSession(ctx, &StartSessionRequest{Operation: "read"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCardService_DialerFailure(t *testing.T) {
	svc, _, dialers := newTestCardService(t, nil)
	dialers.err = errors.New("unsupported transport")

	_, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "read"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create reader dialer")
	assert.Nil(t, svc.CurrentSession())
}

func TestCardService_OneSessionAtATime(t *testing.T) {
	svc, operations, _ := newTestCardService(t, nil)

	first, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "read"})
	require.NoError(t, err)

	_, err = svc.StartSession(context.Background(), &StartSessionRequest{Operation: "balance"})
	assert.ErrorIs(t, err, ErrSessionBusy)

	first.Cancel()
	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("cancelled session did not finish")
	}
	assert.Nil(t, svc.CurrentSession())

	second, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "balance"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	records := waitRecords(t, operations, 1)
	assert.Equal(t, model.OperationStatusCancelled, records[0].Status)
	assert.Equal(t, first.ID, records[0].SessionID)
}

func TestCardService_ReadSessionEndToEnd(t *testing.T) {
	customers := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	svc, operations, dialers := newTestCardService(t, customers)

	session, err := svc.StartSession(context.Background(), &StartSessionRequest{
		Operation: "read",
		ClientID:  "pos-1",
	})
	require.NoError(t, err)

	got, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	conn := waitOpen(t, dialers)
	conn.Inject(`{"code":200,"tid":"ABC"}`)

	events := drain(t, session)
	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, model.SessionEventClose, types[len(types)-1])
	assert.Contains(t, types, model.SessionEventResult)
	assert.Contains(t, types, model.SessionEventNotification)
	assert.Contains(t, types, model.SessionEventState)

	for _, e := range events {
		if e.Type == model.SessionEventResult {
			result, ok := e.Data.(*model.CardResult)
			require.True(t, ok)
			assert.True(t, result.Found())
			assert.Equal(t, "Alice", result.CustomerName)
		}
	}

	records := waitRecords(t, operations, 1)
	record := records[0]
	assert.Equal(t, model.OperationStatusSuccess, record.Status)
	assert.Equal(t, session.ID, record.SessionID)
	require.NotNil(t, record.CardTID)
	assert.Equal(t, "ABC", *record.CardTID)
	require.NotNil(t, record.ClientID)
	assert.Equal(t, "pos-1", *record.ClientID)
	assert.Equal(t, "ABC", record.Result["tid"])

	_, err = svc.GetSession(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCardService_PaymentSessionRecordsAmount(t *testing.T) {
	customers := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	svc, operations, dialers := newTestCardService(t, customers)

	session, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "payment", Amount: 60})
	require.NoError(t, err)

	conn := waitOpen(t, dialers)
	assert.Equal(t, 1, conn.CountSent("thanh_toan|60x"))
	conn.Inject(`{"code":200,"tid":"ABC"}`)

	drain(t, session)

	records := waitRecords(t, operations, 1)
	assert.Equal(t, model.OperationStatusSuccess, records[0].Status)
	require.NotNil(t, records[0].Amount)
	assert.Equal(t, int64(60), *records[0].Amount)
	require.Len(t, customers.balanceUpdates(), 1)
}

func TestCardService_FailedSessionRecordsError(t *testing.T) {
	svc, operations, dialers := newTestCardService(t, nil)

	session, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "write", Data: "700"})
	require.NoError(t, err)

	conn := waitOpen(t, dialers)
	conn.Inject(`{"code":406}`)
	require.Eventually(t, func() bool {
		return session.Snapshot().ScanningState == model.ScanningError
	}, waitFor, tick)

	session.Cancel()
	drain(t, session)

	records := waitRecords(t, operations, 1)
	assert.Equal(t, model.OperationStatusFailed, records[0].Status)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Equal(t, MsgCardNotFound, *records[0].ErrorMessage)
	require.NotNil(t, records[0].Data)
	assert.Equal(t, "700", *records[0].Data)
}

func TestCardService_ClientCloseEndsSession(t *testing.T) {
	svc, operations, dialers := newTestCardService(t, nil)

	session, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "read"})
	require.NoError(t, err)
	conn := waitOpen(t, dialers)

	session.Close()
	session.Close()

	<-session.Done()
	assert.Nil(t, svc.CurrentSession())
	assert.True(t, conn.IsClosed())

	// the controller is disposed; commands are no-ops
	session.Retry()
	session.Confirm()

	records := waitRecords(t, operations, 1)
	assert.Equal(t, model.OperationStatusCancelled, records[0].Status)
	assert.Equal(t, "DISCONNECTED", session.ConnectionStats().State)
}

func TestCardService_RecordFailureIsLogged(t *testing.T) {
	svc, operations, _ := newTestCardService(t, nil)
	operations.createErr = errors.New("relation does not exist")

	session, err := svc.StartSession(context.Background(), &StartSessionRequest{Operation: "read"})
	require.NoError(t, err)

	session.Close()
	svc.Shutdown()
	assert.Empty(t, operations.all())
}

func TestCardService_History(t *testing.T) {
	svc, operations, _ := newTestCardService(t, nil)

	now := time.Now()
	old := &model.CardOperation{ID: uuid.New(), Operation: model.OperationRead, Status: model.OperationStatusSuccess,
		StartedAt: now.Add(-3 * time.Hour), CompletedAt: now.Add(-3 * time.Hour)}
	recent := &model.CardOperation{ID: uuid.New(), Operation: model.OperationPayment, Status: model.OperationStatusFailed,
		StartedAt: now, CompletedAt: now}
	require.NoError(t, operations.Create(context.Background(), old))
	require.NoError(t, operations.Create(context.Background(), recent))

	filter := &repository.CardOperationFilter{PerPage: 500}
	list, total, err := svc.ListOperations(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)
	assert.Equal(t, 1, filter.Page)
	assert.Equal(t, 20, filter.PerPage)

	got, err := svc.GetOperation(context.Background(), recent.ID)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, got.ID)

	_, err = svc.GetOperation(context.Background(), uuid.New())
	assert.Error(t, err)

	deleted, err := svc.PurgeHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, operations.all(), 1)
}

func TestCardService_RunHistoryCleanupStopsWithContext(t *testing.T) {
	svc, operations, _ := newTestCardService(t, nil)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, operations.Create(context.Background(), &model.CardOperation{
		ID: uuid.New(), StartedAt: past, CompletedAt: past,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunHistoryCleanup(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(operations.all()) == 0 }, waitFor, tick)
	cancel()
	<-done
}

func TestCardService_FindCustomers(t *testing.T) {
	customers := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	svc, _, _ := newTestCardService(t, customers)

	_, err := svc.FindCustomers(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	found, err := svc.FindCustomers(context.Background(), "ABC", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Alice", found[0].Name)

	found, err = svc.FindCustomers(context.Background(), "", "ali")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ABC", found[0].CardTID)

	customers.searchErr = errors.New("timeout")
	_, err = svc.FindCustomers(context.Background(), "ABC", "")
	assert.Error(t, err)
}

func TestCardService_GetCustomer(t *testing.T) {
	svc, _, _ := newTestCardService(t, newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100)))

	customer, err := svc.GetCustomer(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Alice", customer.Name)

	_, err = svc.GetCustomer(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrCustomerNotFound)
}

func TestTransportConfigFromDevice(t *testing.T) {
	device := &config.DeviceConfig{
		Transport: "tcp",
		Endpoint:  "ws://ignored",
		DefaultPort: config.DevicePortConfig{
			TCP: config.TCPPortConfig{Host: "10.0.0.5", Port: 4001, ConnectTimeout: time.Second},
		},
	}

	transport := TransportConfigFromDevice(device)
	assert.Equal(t, model.TransportTCP, transport.Type)
	assert.Equal(t, "10.0.0.5", transport.TCP.Host)
	assert.Equal(t, 4001, transport.TCP.Port)
	assert.Equal(t, time.Second, transport.TCP.Timeout)
	assert.Equal(t, "ws://ignored", transport.WebSocket.URL)
}
