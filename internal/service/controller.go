// internal/service/controller.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/repository"
	"card-service/internal/utils"
)

// User-facing session error messages
const (
	MsgCardNotFound         = "card not found in system"
	MsgInsufficientBalance  = "insufficient balance"
	MsgUnknownDeviceError   = "unknown device error"
	MsgProcessResponse      = "failed to process device response"
	MsgWriteFailed          = "failed to write card"
	MsgReadCardInfoFailed   = "failed to read card information"
	MsgReadBalanceFailed    = "failed to read card balance"
	MsgPaymentFailed        = "failed to process payment"
	MsgCardIdentifierAbsent = "card identifier missing in device response"
)

// ReaderConnection is the part of protocol.ConnectionManager a controller
// drives
type ReaderConnection interface {
	Connect()
	Disconnect()
	Send(payload string)
	OnOpen(fn func()) *protocol.Subscription
	OnMessage(fn func(string)) *protocol.Subscription
	IsOpen() bool
	DisconnectRequested() bool
}

// Phase merges the scanning state with the active flag
type Phase int

const (
	// PhaseIdle is waiting without an active poll
	PhaseIdle Phase = iota
	// PhasePolling is waiting while the command is re-sent
	PhasePolling
	PhaseScanning
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePolling:
		return "polling"
	case PhaseScanning:
		return "scanning"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// ScanningState maps the phase to the UI status
func (p Phase) ScanningState() model.ScanningState {
	switch p {
	case PhaseScanning:
		return model.ScanningScanning
	case PhaseSuccess:
		return model.ScanningSuccess
	case PhaseError:
		return model.ScanningError
	default:
		return model.ScanningWaiting
	}
}

// IsTerminal reports whether the phase is success or error
func (p Phase) IsTerminal() bool {
	return p == PhaseSuccess || p == PhaseError
}

// acceptsMessages reports whether inbound reader messages are classified
func (p Phase) acceptsMessages() bool {
	return p == PhaseIdle || p == PhasePolling
}

var phaseTransitions = map[Phase]map[Phase]bool{
	PhaseIdle:     {PhasePolling: true, PhaseScanning: true, PhaseError: true},
	PhasePolling:  {PhaseIdle: true, PhaseScanning: true, PhaseError: true},
	PhaseScanning: {PhaseSuccess: true, PhaseError: true},
	PhaseSuccess:  {PhaseIdle: true},
	PhaseError:    {PhaseIdle: true},
}

// ControllerConfig represents card session timing
type ControllerConfig struct {
	PollInterval        time.Duration
	ReadConfirmDelay    time.Duration
	BalanceConfirmDelay time.Duration
	WriteConfirmDelay   time.Duration
	PaymentConfirmDelay time.Duration
	Currency            string
}

// DefaultControllerConfig returns the reader defaults
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PollInterval:        time.Second,
		ReadConfirmDelay:    3 * time.Second,
		BalanceConfirmDelay: 3 * time.Second,
		WriteConfirmDelay:   2 * time.Second,
		PaymentConfirmDelay: 2 * time.Second,
	}
}

func (c ControllerConfig) confirmDelay(kind model.OperationKind) time.Duration {
	switch kind {
	case model.OperationBalance:
		return c.BalanceConfirmDelay
	case model.OperationWrite:
		return c.WriteConfirmDelay
	case model.OperationPayment:
		return c.PaymentConfirmDelay
	default:
		return c.ReadConfirmDelay
	}
}

// ControllerOptions is the caller contract of one session
type ControllerOptions struct {
	SessionID uuid.UUID
	Kind      model.OperationKind
	Data      string
	Amount    int64

	// OnResult is called at most once, with nil on a cancel without result
	OnResult func(result *model.CardResult)
	// OnClose is called at most once when the session asks to be closed
	OnClose func()
	// OnStateChange receives a snapshot after every transition
	OnStateChange func(snapshot model.SessionSnapshot)
}

// effects are callbacks collected under the lock and run after it is released
type effects []func()

func (fx *effects) add(fn func()) {
	*fx = append(*fx, fn)
}

// CardOperationController drives one card operation over a reader
// connection: it polls, classifies reader responses, runs at most one
// follow-up and reports a result.
type CardOperationController struct {
	conn      ReaderConnection
	customers repository.CustomerRepository
	notifier  Notifier
	config    ControllerConfig
	opts      ControllerOptions
	logger    *zap.Logger
	opLogger  *utils.SessionLogger
	audit     *utils.AuditLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	alive           bool
	started         bool
	ended           bool
	phase           Phase
	errorMessage    string
	result          *model.CardResult
	command         string
	poll            *RepeatingTask
	confirmTimer    *time.Timer
	epoch           uint64
	resultDelivered bool
	closeRequested  bool
	openSub         *protocol.Subscription
	messageSub      *protocol.Subscription
}

// NewCardOperationController creates a controller for one session
func NewCardOperationController(
	conn ReaderConnection,
	customers repository.CustomerRepository,
	notifier Notifier,
	config ControllerConfig,
	opts ControllerOptions,
	logger *zap.Logger,
) *CardOperationController {
	defaults := DefaultControllerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReadConfirmDelay <= 0 {
		config.ReadConfirmDelay = defaults.ReadConfirmDelay
	}
	if config.BalanceConfirmDelay <= 0 {
		config.BalanceConfirmDelay = defaults.BalanceConfirmDelay
	}
	if config.WriteConfirmDelay <= 0 {
		config.WriteConfirmDelay = defaults.WriteConfirmDelay
	}
	if config.PaymentConfirmDelay <= 0 {
		config.PaymentConfirmDelay = defaults.PaymentConfirmDelay
	}
	if opts.Kind == "" {
		opts.Kind = model.OperationRead
	}
	if opts.SessionID == uuid.Nil {
		opts.SessionID = uuid.New()
	}

	logger = logger.With(
		zap.String("component", "card-controller"),
		zap.String("session_id", opts.SessionID.String()),
		zap.String("operation", string(opts.Kind)),
	)
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CardOperationController{
		conn:      conn,
		customers: customers,
		notifier:  notifier,
		config:    config,
		opts:      opts,
		logger:    logger,
		opLogger:  utils.NewSessionLogger(logger, string(opts.Kind), opts.SessionID.String()),
		audit:     utils.NewAuditLogger(logger),
		ctx:       ctx,
		cancel:    cancel,
		alive:     true,
		phase:     PhaseIdle,
	}
}

// Start disconnects any previous connection, subscribes and connects.
// Calling it again is a no-op.
func (c *CardOperationController) Start() {
	c.mu.Lock()
	if !c.alive || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.opLogger.Started(
		zap.String("data", c.opts.Data),
		zap.Int64("amount", c.opts.Amount),
	)

	c.conn.Disconnect()
	c.subscribeAndConnect()
}

func (c *CardOperationController) subscribeAndConnect() {
	messageSub := c.conn.OnMessage(c.handleMessage)
	openSub := c.conn.OnOpen(c.handleOpen)

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		messageSub.Unsubscribe()
		openSub.Unsubscribe()
		return
	}
	c.messageSub = messageSub
	c.openSub = openSub
	c.mu.Unlock()

	c.conn.Connect()
}

// Confirm ends the session and delivers the result, or a bare success when
// none was produced.
func (c *CardOperationController) Confirm() {
	var fx effects

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.cleanupLocked(&fx)
	result := c.result
	if result == nil {
		result = &model.CardResult{Success: true}
	}
	c.deliverResultLocked(result, &fx)
	release := c.endLocked()
	c.mu.Unlock()

	release()
	c.run(fx)
}

// Cancel delivers whatever result exists (possibly nil) and asks to close
func (c *CardOperationController) Cancel() {
	var fx effects

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.deliverResultLocked(c.result, &fx)
	c.cleanupLocked(&fx)
	c.requestCloseLocked(&fx)
	release := c.endLocked()
	c.mu.Unlock()

	release()
	c.run(fx)
}

// Retry resets the session to waiting and restarts polling, reconnecting
// first when the connection is gone. It is rejected while a follow-up runs.
func (c *CardOperationController) Retry() {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.ended {
		c.mu.Unlock()
		return
	}
	if c.phase == PhaseScanning {
		c.mu.Unlock()
		c.logger.Warn("Retry ignored while the card is being processed")
		return
	}

	c.epoch++
	c.stopPollLocked()
	c.stopConfirmTimerLocked()
	c.result = nil
	c.errorMessage = ""
	c.setPhaseLocked(PhaseIdle, &fx)

	reconnect := !c.conn.IsOpen()
	if !reconnect {
		c.startOperationLocked(&fx)
	}
	c.mu.Unlock()

	c.opLogger.Step("Retrying card operation", zap.Bool("reconnect", reconnect))
	c.run(fx)

	if reconnect {
		c.subscribeAndConnect()
	}
}

// Dispose stops the session for good. Timers, late messages and follow-up
// completions after Dispose are ignored. It does not wait for background
// goroutines; see Wait.
func (c *CardOperationController) Dispose() {
	var fx effects

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	c.epoch++
	c.cleanupLocked(&fx)
	openSub, messageSub := c.openSub, c.messageSub
	c.openSub, c.messageSub = nil, nil
	c.mu.Unlock()

	c.cancel()
	openSub.Unsubscribe()
	messageSub.Unsubscribe()
	c.conn.Disconnect()

	c.logger.Debug("Card operation controller disposed")
}

// Wait blocks until the poll task and any follow-up have finished. It must
// not be called from a controller callback.
func (c *CardOperationController) Wait() {
	c.wg.Wait()
}

// Phase returns the current phase
func (c *CardOperationController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the observable session state
func (c *CardOperationController) Snapshot() model.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *CardOperationController) handleOpen() {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.ended {
		c.mu.Unlock()
		return
	}
	notifier := c.notifier
	fx.add(func() {
		notifier.Notify(model.Notification{Level: NotificationSuccess, Message: "Card reader connected"})
	})
	if c.phase == PhaseIdle {
		c.startOperationLocked(&fx)
	}
	c.mu.Unlock()

	c.run(fx)
}

// startOperationLocked sends the command once and starts the poll.
// Starting while already polling is a no-op.
func (c *CardOperationController) startOperationLocked(fx *effects) {
	if c.phase != PhaseIdle {
		return
	}

	command, err := protocol.CommandFor(c.opts.Kind, c.opts.Data, c.opts.Amount)
	if err != nil {
		c.failLocked(err.Error(), fx)
		return
	}
	c.command = command

	if !c.setPhaseLocked(PhasePolling, fx) {
		return
	}
	c.startPollLocked()

	conn := c.conn
	fx.add(func() { conn.Send(command) })
}

func (c *CardOperationController) startPollLocked() {
	c.stopPollLocked()

	var task *RepeatingTask
	task = NewRepeatingTask(c.ctx, c.config.PollInterval, func(context.Context) bool {
		return c.pollTick(task)
	})
	c.poll = task

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		task.Run()
	}()
}

func (c *CardOperationController) stopPollLocked() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
}

// pollTick re-sends the command. It stops the task when the connection is
// gone; the next open restarts polling.
func (c *CardOperationController) pollTick(task *RepeatingTask) bool {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.ended || c.poll != task || c.phase != PhasePolling {
		c.mu.Unlock()
		return false
	}

	if !c.conn.IsOpen() || c.conn.DisconnectRequested() {
		c.stopPollLocked()
		c.setPhaseLocked(PhaseIdle, &fx)
		c.mu.Unlock()

		c.logger.Debug("Reader connection lost, polling paused")
		c.run(fx)
		return false
	}
	command := c.command
	c.mu.Unlock()

	c.conn.Send(command)
	return true
}

func (c *CardOperationController) handleMessage(payload string) {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.ended || !c.phase.acceptsMessages() {
		c.mu.Unlock()
		return
	}

	resp, class, err := protocol.Classify(payload)

	var followUp *protocol.DeviceResponse
	var epoch uint64

	switch class {
	case protocol.ResponseIgnored, protocol.ResponseConsumed:
		c.mu.Unlock()
		c.logger.Debug("Reader message skipped",
			zap.String("payload", payload),
			zap.String("class", class.String()),
		)
		return
	case protocol.ResponseCardNotFound:
		c.failLocked(MsgCardNotFound, &fx)
	case protocol.ResponseInsufficientBalance:
		c.failLocked(MsgInsufficientBalance, &fx)
		c.notifyLocked(NotificationWarning,
			fmt.Sprintf("Insufficient balance. Current balance: %s", resp.MessageText()), &fx)
	case protocol.ResponseDeviceError:
		c.failLocked(resp.ErrorMessage(MsgUnknownDeviceError), &fx)
	case protocol.ResponseMalformed:
		c.logger.Warn("Failed to parse reader message",
			zap.String("payload", payload),
			zap.Error(err),
		)
		c.failLocked(MsgProcessResponse, &fx)
	case protocol.ResponseSuccess:
		c.stopPollLocked()
		if c.setPhaseLocked(PhaseScanning, &fx) {
			followUp = resp
			epoch = c.epoch
			c.wg.Add(1)
		}
	}
	c.mu.Unlock()

	c.run(fx)

	if followUp != nil {
		c.conn.Disconnect()
		go c.runFollowUp(epoch, followUp)
	}
}

// failLocked stops polling and enters the error phase
func (c *CardOperationController) failLocked(message string, fx *effects) {
	c.stopPollLocked()
	c.errorMessage = message
	if c.setPhaseLocked(PhaseError, fx) {
		c.opLogger.Failed(message)
	}
}

func (c *CardOperationController) notifyLocked(level, message string, fx *effects) {
	notifier := c.notifier
	fx.add(func() {
		notifier.Notify(model.Notification{Level: level, Message: message})
	})
}

// cleanupLocked cancels the poll and the auto-confirm timer and clears the
// active flag
func (c *CardOperationController) cleanupLocked(fx *effects) {
	c.stopPollLocked()
	c.stopConfirmTimerLocked()
	if c.phase == PhasePolling {
		c.setPhaseLocked(PhaseIdle, fx)
	}
}

// endLocked marks the session as confirmed or cancelled. Later reader
// traffic, poll ticks and follow-up completions are dropped. The returned
// func releases the reader and must run after the lock is released.
func (c *CardOperationController) endLocked() func() {
	if c.ended {
		return func() {}
	}
	c.ended = true
	c.epoch++

	openSub, messageSub := c.openSub, c.messageSub
	c.openSub, c.messageSub = nil, nil
	conn := c.conn
	return func() {
		openSub.Unsubscribe()
		messageSub.Unsubscribe()
		conn.Disconnect()
	}
}

func (c *CardOperationController) stopConfirmTimerLocked() {
	if c.confirmTimer != nil {
		c.confirmTimer.Stop()
		c.confirmTimer = nil
	}
}

func (c *CardOperationController) deliverResultLocked(result *model.CardResult, fx *effects) {
	if c.resultDelivered {
		return
	}
	c.resultDelivered = true

	if cb := c.opts.OnResult; cb != nil {
		fx.add(func() { cb(result) })
	}
}

func (c *CardOperationController) requestCloseLocked(fx *effects) {
	if c.closeRequested {
		return
	}
	c.closeRequested = true

	if cb := c.opts.OnClose; cb != nil {
		fx.add(cb)
	}
}

// setPhaseLocked applies a legal transition and queues the state hook
func (c *CardOperationController) setPhaseLocked(next Phase, fx *effects) bool {
	if next != c.phase && !phaseTransitions[c.phase][next] {
		c.logger.Warn("Illegal phase transition rejected",
			zap.String("from", c.phase.String()),
			zap.String("to", next.String()),
		)
		return false
	}

	c.phase = next
	if next != PhaseError {
		c.errorMessage = ""
	}

	if cb := c.opts.OnStateChange; cb != nil {
		snapshot := c.snapshotLocked()
		fx.add(func() { cb(snapshot) })
	}
	return true
}

func (c *CardOperationController) snapshotLocked() model.SessionSnapshot {
	snapshot := model.SessionSnapshot{
		SessionID:     c.opts.SessionID,
		Operation:     c.opts.Kind,
		ScanningState: c.phase.ScanningState(),
	}
	if c.phase == PhaseError {
		snapshot.ErrorMessage = c.errorMessage
	}
	if c.phase == PhaseSuccess && c.result != nil {
		result := *c.result
		snapshot.Result = &result
	}
	return snapshot
}

// run executes queued effects while the controller is alive
func (c *CardOperationController) run(fx effects) {
	for _, fn := range fx {
		if !c.isAlive() {
			return
		}
		fn()
	}
}

func (c *CardOperationController) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}
