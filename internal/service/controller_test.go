// internal/service/controller_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/protocol/protocoltest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		PollInterval:        time.Hour,
		ReadConfirmDelay:    20 * time.Millisecond,
		BalanceConfirmDelay: 20 * time.Millisecond,
		WriteConfirmDelay:   20 * time.Millisecond,
		PaymentConfirmDelay: 20 * time.Millisecond,
		Currency:            "VND",
	}
}

type controllerHarness struct {
	t       *testing.T
	dialer  *protocoltest.MockDialer
	manager *protocol.ConnectionManager
	repo    *fakeCustomerRepo
	rec     *sessionRecorder
	ctrl    *CardOperationController
}

func newControllerHarness(t *testing.T, cfg ControllerConfig, repo *fakeCustomerRepo, kind model.OperationKind, data string, amount int64) *controllerHarness {
	t.Helper()

	if repo == nil {
		repo = newFakeCustomerRepo()
	}
	dialer := protocoltest.NewMockDialer()
	manager := protocol.NewConnectionManager(dialer, protocol.ManagerConfig{
		ReconnectDelay: 20 * time.Millisecond,
	}, zap.NewNop())
	rec := &sessionRecorder{}

	h := &controllerHarness{
		t:       t,
		dialer:  dialer,
		manager: manager,
		repo:    repo,
		rec:     rec,
		ctrl:    NewCardOperationController(manager, repo, rec, cfg, rec.options(kind, data, amount), zap.NewNop()),
	}
	t.Cleanup(func() {
		h.ctrl.Dispose()
		h.ctrl.Wait()
		manager.Close()
	})
	return h
}

// start runs Start and waits until the first command went out
func (h *controllerHarness) start() *protocoltest.MockConn {
	h.t.Helper()

	h.ctrl.Start()
	require.Eventually(h.t, func() bool {
		conn := h.dialer.LastConn()
		// handshake plus the first command
		return h.ctrl.Phase() == PhasePolling && conn != nil && len(conn.Sent()) >= 2
	}, waitFor, tick)

	return h.dialer.LastConn()
}

func (h *controllerHarness) waitPhase(phase Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.ctrl.Phase() == phase
	}, waitFor, tick, "expected phase %s, got %s", phase, h.ctrl.Phase())
}

func (h *controllerHarness) waitResult() *model.CardResult {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.rec.resultCalls()) > 0
	}, waitFor, tick)
	return h.rec.resultCalls()[0]
}

func intCustomer(id int64, tid, name string, balance int64) *model.Customer {
	return &model.Customer{ID: id, CardTID: tid, Name: name, Balance: decimal.NewFromInt(balance)}
}

func TestPhaseTransitions(t *testing.T) {
	assert.True(t, phaseTransitions[PhaseIdle][PhasePolling])
	assert.True(t, phaseTransitions[PhasePolling][PhaseScanning])
	assert.True(t, phaseTransitions[PhaseScanning][PhaseSuccess])
	assert.True(t, phaseTransitions[PhaseScanning][PhaseError])
	assert.True(t, phaseTransitions[PhaseError][PhaseIdle])

	assert.False(t, phaseTransitions[PhaseScanning][PhaseIdle])
	assert.False(t, phaseTransitions[PhaseSuccess][PhaseError])
	assert.False(t, phaseTransitions[PhaseError][PhaseSuccess])

	assert.Equal(t, model.ScanningWaiting, PhaseIdle.ScanningState())
	assert.Equal(t, model.ScanningWaiting, PhasePolling.ScanningState())
	assert.Equal(t, model.ScanningScanning, PhaseScanning.ScanningState())
	assert.True(t, PhaseSuccess.IsTerminal())
	assert.False(t, PhasePolling.IsTerminal())
}

func TestController_StartSendsCommandOnce(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)

	conn := h.start()
	h.ctrl.Start()
	h.ctrl.handleOpen()

	require.Eventually(t, func() bool {
		return conn.CountSent(protocol.CommandReadTID) >= 1
	}, waitFor, tick)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []string{protocol.CommandHandshake, protocol.CommandReadTID}, conn.Sent())
	assert.Equal(t, 1, h.dialer.DialCount())
	assert.Equal(t, PhasePolling, h.ctrl.Phase())
}

func TestController_PollsUntilTerminalResponse(t *testing.T) {
	cfg := testControllerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)

	conn := h.start()
	require.Eventually(t, func() bool {
		return conn.CountSent(protocol.CommandReadTID) >= 3
	}, waitFor, tick)

	conn.Inject(`{"code":406}`)
	h.waitPhase(PhaseError)

	snapshot := h.ctrl.Snapshot()
	assert.Equal(t, model.ScanningError, snapshot.ScanningState)
	assert.Equal(t, MsgCardNotFound, snapshot.ErrorMessage)

	sent := conn.CountSent(protocol.CommandReadTID)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, conn.CountSent(protocol.CommandReadTID), "poll must stop on a terminal response")
	assert.True(t, h.manager.IsOpen())
}

func TestController_AckMarkersLeaveStateUnchanged(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
	conn := h.start()

	before := h.rec.snapshotCount()
	for i := 0; i < 3; i++ {
		for _, ack := range []string{"g", "quet the tid", "GetConnect", "thanh_toan|5x", "doc so du", ""} {
			conn.Inject(ack)
		}
	}
	conn.Inject(`{"code":205}`)
	conn.Inject(`{"status":"ready"}`)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, PhasePolling, h.ctrl.Phase())
	assert.Equal(t, before, h.rec.snapshotCount())
	assert.Empty(t, h.rec.resultCalls())
}

func TestController_ReadRoundTrip(t *testing.T) {
	t.Run("customer found", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)

		result := h.waitResult()
		require.NotNil(t, result)
		assert.True(t, result.Success)
		assert.Equal(t, "ABC", result.TID)
		assert.True(t, result.Found())
		assert.Equal(t, int64(7), result.CustomerID)
		assert.Equal(t, "Alice", result.CustomerName)
		assert.True(t, decimal.NewFromInt(100).Equal(*result.CustomerBalance))

		assert.True(t, conn.IsClosed(), "connection is torn down before the lookup")
		assert.Equal(t, 0, h.rec.closeCalls(), "read does not close after confirm")
	})

	t.Run("customer not found", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"XYZ"}`)

		result := h.waitResult()
		require.NotNil(t, result)
		assert.True(t, result.Success)
		assert.Equal(t, "XYZ", result.TID)
		require.NotNil(t, result.CustomerFound)
		assert.False(t, *result.CustomerFound)
	})

	t.Run("bare success code", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`205`)
		h.waitPhase(PhaseError)
		assert.Equal(t, MsgCardIdentifierAbsent, h.ctrl.Snapshot().ErrorMessage)
	})

	t.Run("lookup failure", func(t *testing.T) {
		repo := newFakeCustomerRepo()
		repo.searchErr = errors.New("connection refused")
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseError)
		assert.Equal(t, MsgReadCardInfoFailed, h.ctrl.Snapshot().ErrorMessage)
		assert.Empty(t, h.rec.resultCalls())
	})
}

func TestController_SuccessSnapshotCarriesResult(t *testing.T) {
	cfg := testControllerConfig()
	cfg.ReadConfirmDelay = time.Hour
	h := newControllerHarness(t, cfg, newFakeCustomerRepo(intCustomer(1, "ABC", "Alice", 5)), model.OperationRead, "", 0)
	conn := h.start()

	conn.Inject(`{"code":200,"tid":"ABC"}`)
	h.waitPhase(PhaseSuccess)

	snapshot := h.ctrl.Snapshot()
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, "ABC", snapshot.Result.TID)
	assert.Empty(t, snapshot.ErrorMessage)
	assert.Empty(t, h.rec.resultCalls(), "auto-confirm has not fired yet")

	h.ctrl.Confirm()
	result := h.waitResult()
	assert.Equal(t, "ABC", result.TID)
}

func TestController_BalanceRead(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationBalance, "", 0)
	conn := h.start()
	assert.Equal(t, 1, conn.CountSent(protocol.CommandReadBalance))

	conn.Inject(`{"code":200,"tid":"ABC","message":"1500","card_info":{"holder":"Alice"}}`)

	result := h.waitResult()
	require.NotNil(t, result)
	assert.Equal(t, model.OperationBalance, result.Operation)
	require.NotNil(t, result.Balance)
	assert.True(t, decimal.NewFromInt(1500).Equal(*result.Balance))
	assert.JSONEq(t, `{"holder":"Alice"}`, string(result.CardInfo))
	assert.Equal(t, 0, h.repo.searchCount())
}

func TestController_BalanceWithoutMessageIsZero(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationBalance, "", 0)
	conn := h.start()

	conn.Inject(`{"code":204}`)

	result := h.waitResult()
	require.NotNil(t, result.Balance)
	assert.True(t, result.Balance.IsZero())
}

func TestController_BalanceNonNumericMessageKeptAsText(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationBalance, "", 0)
	conn := h.start()

	conn.Inject(`{"code":200,"tid":"ABC","message":"card blocked"}`)

	result := h.waitResult()
	require.NotNil(t, result)
	assert.Nil(t, result.Balance)
	assert.Equal(t, "card blocked", result.BalanceText)
	assert.Equal(t, "ABC", result.TID)
}

func TestController_Write(t *testing.T) {
	t.Run("written", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationWrite, "700", 0)
		conn := h.start()
		assert.Equal(t, 1, conn.CountSent("ghi epc|700x"))

		conn.Inject(`{"code":201,"tid":"ABC","message":700}`)

		result := h.waitResult()
		assert.True(t, result.Success)
		assert.Equal(t, "700", result.WrittenData)
		require.NotNil(t, result.CurrentMoney)
		assert.True(t, decimal.NewFromInt(700).Equal(*result.CurrentMoney))
		assert.Equal(t, 0, h.rec.closeCalls())
	})

	t.Run("success flag", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationWrite, "abc", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"success":true}`)

		result := h.waitResult()
		assert.Equal(t, "abc", result.WrittenData)
		assert.Nil(t, result.CurrentMoney)
	})

	t.Run("reader reports failure", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationWrite, "abc", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"success":false,"message":"card locked"}`)
		h.waitPhase(PhaseError)
		assert.Equal(t, "card locked", h.ctrl.Snapshot().ErrorMessage)
	})

	t.Run("failure without message", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationWrite, "abc", 0)
		conn := h.start()

		conn.Inject(`{"code":200}`)
		h.waitPhase(PhaseError)
		assert.Equal(t, MsgWriteFailed, h.ctrl.Snapshot().ErrorMessage)
	})
}

func TestController_PaymentDebitsBalance(t *testing.T) {
	repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
	conn := h.start()
	assert.Equal(t, 1, conn.CountSent("thanh_toan|60x"))

	conn.Inject(`{"code":200,"tid":"ABC"}`)

	result := h.waitResult()
	require.NotNil(t, result)
	assert.Equal(t, int64(60), result.Amount)
	assert.True(t, decimal.NewFromInt(100).Equal(*result.OldBalance))
	assert.True(t, decimal.NewFromInt(40).Equal(*result.NewBalance))

	updates := repo.balanceUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, []int64{7}, updates[0].ids)
	assert.True(t, decimal.NewFromInt(40).Equal(updates[0].balance))

	require.Eventually(t, func() bool { return h.rec.closeCalls() == 1 }, waitFor, tick,
		"payment closes after the auto-confirm")
}

func TestController_PaymentRejections(t *testing.T) {
	t.Run("insufficient stored balance", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 50))
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseError)

		assert.Equal(t, MsgInsufficientBalance, h.ctrl.Snapshot().ErrorMessage)
		assert.Empty(t, repo.balanceUpdates())
		require.Eventually(t, func() bool { return len(h.rec.warnings()) == 1 }, waitFor, tick)
		assert.Contains(t, h.rec.warnings()[0].Message, "50")
	})

	t.Run("card unknown", func(t *testing.T) {
		repo := newFakeCustomerRepo()
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseError)

		assert.Equal(t, MsgCardNotFound, h.ctrl.Snapshot().ErrorMessage)
		assert.Empty(t, repo.balanceUpdates())
	})

	t.Run("customer lookup fails", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
		repo.searchErr = errors.New("failed to scan customer: invalid balance")
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseError)

		assert.Equal(t, MsgPaymentFailed, h.ctrl.Snapshot().ErrorMessage)
		assert.Empty(t, repo.balanceUpdates())
	})

	t.Run("debit fails", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
		repo.updateErr = errors.New("deadlock detected")
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseError)

		assert.Equal(t, MsgPaymentFailed, h.ctrl.Snapshot().ErrorMessage)
		assert.Empty(t, h.rec.resultCalls())
	})

	t.Run("reader reports insufficient balance", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":407,"message":20}`)
		h.waitPhase(PhaseError)

		assert.Equal(t, MsgInsufficientBalance, h.ctrl.Snapshot().ErrorMessage)
		require.Eventually(t, func() bool { return len(h.rec.warnings()) == 1 }, waitFor, tick)
		assert.Contains(t, h.rec.warnings()[0].Message, "20")
		assert.Equal(t, 0, repo.searchCount())
		assert.Empty(t, repo.balanceUpdates())
	})
}

func TestController_DeviceErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{"server error with message", `{"code":500,"message":"antenna fault"}`, "antenna fault"},
		{"server error without message", `{"code":500}`, MsgUnknownDeviceError},
		{"error flag", `{"error":true,"message":"timeout"}`, "timeout"},
		{"malformed payload", `{"code":`, MsgProcessResponse},
		{"null payload", `null`, MsgProcessResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
			conn := h.start()

			conn.Inject(tt.payload)
			h.waitPhase(PhaseError)
			assert.Equal(t, tt.expected, h.ctrl.Snapshot().ErrorMessage)
		})
	}
}

func TestController_MessagesIgnoredAfterTerminal(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
	conn := h.start()

	conn.Inject(`{"code":406}`)
	h.waitPhase(PhaseError)

	conn.Inject(`{"code":200,"tid":"ABC"}`)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, PhaseError, h.ctrl.Phase())
	assert.Equal(t, 0, h.repo.searchCount())
}

func TestController_DisposeSuppressesLateWork(t *testing.T) {
	t.Run("poll and late message", func(t *testing.T) {
		cfg := testControllerConfig()
		cfg.PollInterval = 10 * time.Millisecond
		h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)
		conn := h.start()

		h.ctrl.Dispose()
		h.ctrl.Dispose()
		h.ctrl.Wait()

		sent := len(conn.Sent())
		snapshots := h.rec.snapshotCount()
		time.Sleep(40 * time.Millisecond)

		h.ctrl.handleMessage(`{"code":200,"tid":"ABC"}`)
		h.ctrl.handleOpen()
		h.ctrl.Retry()
		h.ctrl.Confirm()

		assert.Equal(t, sent, len(conn.Sent()))
		assert.Equal(t, snapshots, h.rec.snapshotCount())
		assert.Empty(t, h.rec.resultCalls())
		assert.Equal(t, 0, h.repo.searchCount())
		assert.True(t, h.manager.DisconnectRequested())
	})

	t.Run("pending auto-confirm", func(t *testing.T) {
		cfg := testControllerConfig()
		cfg.ReadConfirmDelay = 30 * time.Millisecond
		h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseSuccess)
		h.ctrl.Dispose()

		time.Sleep(60 * time.Millisecond)
		assert.Empty(t, h.rec.resultCalls())
		assert.Equal(t, 0, h.rec.closeCalls())
	})

	t.Run("payment in flight is not debited", func(t *testing.T) {
		repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
		entered := make(chan struct{})
		release := make(chan struct{})
		repo.beforeSearch = func(ctx context.Context) {
			close(entered)
			<-release
		}

		h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		<-entered
		h.ctrl.Dispose()
		close(release)
		h.ctrl.Wait()

		assert.Empty(t, repo.balanceUpdates())
		assert.Empty(t, h.rec.resultCalls())
	})
}

func TestController_RetryAfterError(t *testing.T) {
	repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	h := newControllerHarness(t, testControllerConfig(), repo, model.OperationRead, "", 0)
	conn := h.start()

	conn.Inject(`{"code":406}`)
	h.waitPhase(PhaseError)

	h.ctrl.Retry()
	assert.Equal(t, PhasePolling, h.ctrl.Phase())
	assert.Empty(t, h.ctrl.Snapshot().ErrorMessage)
	require.Eventually(t, func() bool {
		return conn.CountSent(protocol.CommandReadTID) == 2
	}, waitFor, tick)
	assert.Equal(t, 1, h.dialer.DialCount(), "retry reuses the open connection")

	conn.Inject(`{"code":200,"tid":"ABC"}`)
	result := h.waitResult()
	assert.True(t, result.Found())
}

func TestController_RetryAfterSuccessReconnects(t *testing.T) {
	cfg := testControllerConfig()
	cfg.ReadConfirmDelay = time.Hour
	h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)
	conn := h.start()

	conn.Inject(`{"code":200,"tid":"ABC"}`)
	h.waitPhase(PhaseSuccess)
	require.False(t, h.manager.IsOpen())

	h.ctrl.Retry()
	require.Eventually(t, func() bool {
		return h.dialer.DialCount() == 2 && h.ctrl.Phase() == PhasePolling
	}, waitFor, tick)

	next := h.dialer.LastConn()
	require.Eventually(t, func() bool {
		return next.CountSent(protocol.CommandReadTID) == 1
	}, waitFor, tick)
	assert.Nil(t, h.ctrl.Snapshot().Result)
}

func TestController_RetryIgnoredWhileScanning(t *testing.T) {
	repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
	entered := make(chan struct{})
	release := make(chan struct{})
	repo.beforeSearch = func(ctx context.Context) {
		close(entered)
		<-release
	}

	h := newControllerHarness(t, testControllerConfig(), repo, model.OperationRead, "", 0)
	conn := h.start()

	conn.Inject(`{"code":200,"tid":"ABC"}`)
	<-entered

	h.ctrl.Retry()
	assert.Equal(t, PhaseScanning, h.ctrl.Phase())
	assert.Equal(t, 1, h.dialer.DialCount())

	close(release)
	result := h.waitResult()
	assert.True(t, result.Found())
}

func TestController_ResumesPollingAfterConnectionDrop(t *testing.T) {
	cfg := testControllerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)
	conn := h.start()

	conn.Close()

	require.Eventually(t, func() bool {
		if h.dialer.DialCount() < 2 {
			return false
		}
		return h.dialer.LastConn().CountSent(protocol.CommandReadTID) >= 1
	}, waitFor, tick)
	assert.Equal(t, PhasePolling, h.ctrl.Phase())
}

func TestController_CancelAndConfirm(t *testing.T) {
	t.Run("cancel without result", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
		h.start()

		h.ctrl.Cancel()
		h.ctrl.Cancel()

		results := h.rec.resultCalls()
		require.Len(t, results, 1)
		assert.Nil(t, results[0])
		assert.Equal(t, 1, h.rec.closeCalls())
		assert.Equal(t, PhaseIdle, h.ctrl.Phase())
	})

	t.Run("cancel after success delivers result", func(t *testing.T) {
		cfg := testControllerConfig()
		cfg.ReadConfirmDelay = time.Hour
		h := newControllerHarness(t, cfg, nil, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		h.waitPhase(PhaseSuccess)
		h.ctrl.Cancel()

		results := h.rec.resultCalls()
		require.Len(t, results, 1)
		require.NotNil(t, results[0])
		assert.Equal(t, "ABC", results[0].TID)
	})

	t.Run("confirm without result", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
		h.start()

		h.ctrl.Confirm()
		h.ctrl.Confirm()

		results := h.rec.resultCalls()
		require.Len(t, results, 1)
		require.NotNil(t, results[0])
		assert.True(t, results[0].Success)
		assert.Equal(t, 0, h.rec.closeCalls())
	})
}

func TestController_LateReaderTrafficAfterSessionEnd(t *testing.T) {
	tests := []struct {
		name      string
		end       func(*CardOperationController)
		wantClose int
	}{
		{name: "confirm", end: (*CardOperationController).Confirm, wantClose: 0},
		{name: "cancel", end: (*CardOperationController).Cancel, wantClose: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeCustomerRepo(intCustomer(7, "ABC", "Alice", 100))
			h := newControllerHarness(t, testControllerConfig(), repo, model.OperationPayment, "", 60)
			conn := h.start()

			tt.end(h.ctrl)
			assert.True(t, h.manager.DisconnectRequested())
			sent := len(conn.Sent())

			conn.Inject(`{"code":200,"tid":"ABC"}`)
			h.ctrl.handleMessage(`{"code":200,"tid":"ABC"}`)
			h.ctrl.handleOpen()
			h.ctrl.Retry()
			time.Sleep(30 * time.Millisecond)
			h.ctrl.Wait()

			assert.Equal(t, 0, repo.searchCount())
			assert.Empty(t, repo.balanceUpdates())
			assert.Equal(t, PhaseIdle, h.ctrl.Phase())
			assert.Equal(t, sent, len(conn.Sent()))
			assert.Equal(t, 1, h.dialer.DialCount())
			assert.Len(t, h.rec.resultCalls(), 1)
			assert.Equal(t, tt.wantClose, h.rec.closeCalls())
		})
	}

	t.Run("auto-confirm", func(t *testing.T) {
		h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
		conn := h.start()

		conn.Inject(`{"code":200,"tid":"ABC"}`)
		result := h.waitResult()
		assert.Equal(t, "ABC", result.TID)
		searches := h.repo.searchCount()

		h.ctrl.handleMessage(`{"code":200,"tid":"XYZ"}`)
		h.ctrl.Retry()
		h.ctrl.Wait()

		assert.Equal(t, searches, h.repo.searchCount())
		assert.Equal(t, PhaseSuccess, h.ctrl.Phase())
		assert.Equal(t, 1, h.dialer.DialCount())
		assert.Len(t, h.rec.resultCalls(), 1)
	})
}

func TestController_InvalidCommandFails(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationWrite, "", 0)

	h.ctrl.Start()
	h.waitPhase(PhaseError)
	assert.Contains(t, h.ctrl.Snapshot().ErrorMessage, "requires data")
}

func TestController_ConnectedNotification(t *testing.T) {
	h := newControllerHarness(t, testControllerConfig(), nil, model.OperationRead, "", 0)
	h.start()

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		for _, n := range h.rec.notifications {
			if n.Level == NotificationSuccess {
				return true
			}
		}
		return false
	}, waitFor, tick)
}
