// internal/protocol/connection_manager_test.go
package protocol_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"card-service/internal/protocol"
	"card-service/internal/protocol/protocoltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testReconnectDelay = 20 * time.Millisecond

func newTestManager(t *testing.T) (*protocol.ConnectionManager, *protocoltest.MockDialer) {
	t.Helper()

	dialer := protocoltest.NewMockDialer()
	manager := protocol.NewConnectionManager(dialer, protocol.ManagerConfig{ReconnectDelay: testReconnectDelay}, zap.NewNop())
	t.Cleanup(manager.Close)
	return manager, dialer
}

func waitOpen(t *testing.T, manager *protocol.ConnectionManager) {
	t.Helper()
	require.Eventually(t, manager.IsOpen, time.Second, time.Millisecond, "connection never opened")
}

func TestConnectionManager_ConnectSendsHandshakeThenNotifiesOpen(t *testing.T) {
	manager, dialer := newTestManager(t)

	opened := make(chan []string, 1)
	manager.OnOpen(func() {
		opened <- dialer.LastConn().Sent()
	})

	assert.Equal(t, protocol.StateDisconnected, manager.State())
	manager.Connect()

	select {
	case sent := <-opened:
		assert.Equal(t, []string{protocol.CommandHandshake}, sent)
	case <-time.After(time.Second):
		t.Fatal("open subscriber was not invoked")
	}
	assert.True(t, manager.IsOpen())
	assert.Equal(t, 1, dialer.DialCount())
}

func TestConnectionManager_ConnectWhileOpenIsNoop(t *testing.T) {
	manager, dialer := newTestManager(t)

	manager.Connect()
	waitOpen(t, manager)

	manager.Connect()
	manager.Connect()
	assert.Equal(t, 1, dialer.DialCount())
}

func TestConnectionManager_SendDroppedWhenNotOpen(t *testing.T) {
	manager, dialer := newTestManager(t)

	manager.Send("quet the tid")
	assert.Equal(t, int64(1), manager.Stats().DroppedSends)
	assert.Zero(t, dialer.DialCount())

	manager.Connect()
	waitOpen(t, manager)
	manager.Send("quet the tid")

	conn := dialer.LastConn()
	require.NotNil(t, conn)
	assert.Equal(t, []string{protocol.CommandHandshake, "quet the tid"}, conn.Sent())
	assert.Equal(t, int64(2), manager.Stats().MessagesSent)
}

func TestConnectionManager_MessagesDeliveredInOrder(t *testing.T) {
	manager, dialer := newTestManager(t)

	var mu sync.Mutex
	var received []string
	manager.OnMessage(func(payload string) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})

	manager.Connect()
	waitOpen(t, manager)

	conn := dialer.LastConn()
	for _, msg := range []string{"g", `{"code":100}`, `{"code":200,"tid":"ABC"}`} {
		conn.Inject(msg)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"g", `{"code":100}`, `{"code":200,"tid":"ABC"}`}, received)
}

func TestConnectionManager_SubscriptionSupersededUnsubscribeIsNoop(t *testing.T) {
	manager, dialer := newTestManager(t)

	var first, second atomic.Int32
	oldSub := manager.OnMessage(func(string) { first.Add(1) })
	manager.OnMessage(func(string) { second.Add(1) })

	oldSub.Unsubscribe()

	manager.Connect()
	waitOpen(t, manager)
	dialer.LastConn().Inject(`{"code":100}`)

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestConnectionManager_UnsubscribeCurrent(t *testing.T) {
	manager, dialer := newTestManager(t)

	var count atomic.Int32
	sub := manager.OnMessage(func(string) { count.Add(1) })
	sub.Unsubscribe()
	sub.Unsubscribe()

	manager.Connect()
	waitOpen(t, manager)
	dialer.LastConn().Inject(`{"code":100}`)

	require.Eventually(t, func() bool { return manager.Stats().MessagesReceived == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestConnectionManager_DisconnectIsIdempotentAndClearsSubscriptions(t *testing.T) {
	manager, dialer := newTestManager(t)

	var opens atomic.Int32
	manager.OnOpen(func() { opens.Add(1) })

	manager.Connect()
	require.Eventually(t, func() bool { return opens.Load() == 1 }, time.Second, time.Millisecond)

	conn := dialer.LastConn()
	manager.Disconnect()
	manager.Disconnect()

	assert.Equal(t, protocol.StateDisconnected, manager.State())
	assert.True(t, manager.DisconnectRequested())
	assert.True(t, conn.IsClosed())

	// subscriptions were cleared; a fresh connect must not reach the old subscriber
	manager.Connect()
	waitOpen(t, manager)
	assert.Equal(t, int32(1), opens.Load())
	assert.False(t, manager.DisconnectRequested())
}

func TestConnectionManager_ReconnectsOnceAfterUnexpectedClose(t *testing.T) {
	manager, dialer := newTestManager(t)

	manager.Connect()
	waitOpen(t, manager)
	require.Equal(t, 1, dialer.DialCount())

	// reader drops the socket
	dialer.LastConn().Close()

	require.Eventually(t, func() bool { return dialer.DialCount() == 2 }, time.Second, time.Millisecond)
	waitOpen(t, manager)

	// the new connection is healthy, so no further dials happen
	time.Sleep(5 * testReconnectDelay)
	assert.Equal(t, 2, dialer.DialCount())
	assert.Equal(t, int64(1), manager.Stats().Reconnects)

	conns := dialer.Conns()
	require.Len(t, conns, 2)
	assert.Equal(t, []string{protocol.CommandHandshake}, conns[1].Sent())
}

func TestConnectionManager_NoReconnectAfterDisconnect(t *testing.T) {
	manager, dialer := newTestManager(t)

	manager.Connect()
	waitOpen(t, manager)

	manager.Disconnect()
	time.Sleep(5 * testReconnectDelay)

	assert.Equal(t, 1, dialer.DialCount())
	assert.Equal(t, protocol.StateDisconnected, manager.State())
}

func TestConnectionManager_RetriesFailedDials(t *testing.T) {
	manager, dialer := newTestManager(t)
	dialer.FailNext(2)

	manager.Connect()
	waitOpen(t, manager)

	assert.Equal(t, 3, dialer.DialCount())
	stats := manager.Stats()
	assert.Equal(t, int64(3), stats.DialAttempts)
	assert.Equal(t, "OPEN", stats.State)
}

func TestConnectionManager_DisconnectStopsPendingRetry(t *testing.T) {
	manager, dialer := newTestManager(t)
	dialer.SetRefuse(true)

	manager.Connect()
	require.Eventually(t, func() bool { return dialer.DialCount() >= 1 }, time.Second, time.Millisecond)

	manager.Disconnect()
	attempts := dialer.DialCount()
	time.Sleep(5 * testReconnectDelay)

	assert.Equal(t, attempts, dialer.DialCount())
}

func TestConnectionManager_DisconnectFromCallback(t *testing.T) {
	manager, dialer := newTestManager(t)

	done := make(chan struct{})
	manager.OnMessage(func(string) {
		manager.Disconnect()
		close(done)
	})

	manager.Connect()
	waitOpen(t, manager)
	dialer.LastConn().Inject(`{"code":200}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
	assert.Equal(t, protocol.StateDisconnected, manager.State())
}
