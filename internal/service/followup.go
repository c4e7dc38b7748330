// internal/service/followup.go
package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/repository"
	"card-service/internal/utils"
)

// followUpOutcome is what a follow-up handler hands back to the session
type followUpOutcome struct {
	result       *model.CardResult
	errorMessage string
	notification *model.Notification
	// closeAfterConfirm asks for close once the result is auto-confirmed
	closeAfterConfirm bool
}

func failedOutcome(message string) followUpOutcome {
	return followUpOutcome{errorMessage: message}
}

// runFollowUp performs the kind-specific action after a success code. The
// reader connection has already been torn down.
func (c *CardOperationController) runFollowUp(epoch uint64, resp *protocol.DeviceResponse) {
	defer c.wg.Done()

	var outcome followUpOutcome
	switch c.opts.Kind {
	case model.OperationBalance:
		outcome = c.processBalanceRead(resp)
	case model.OperationWrite:
		outcome = c.processWrite(resp)
	case model.OperationPayment:
		outcome = c.processPayment(epoch, resp.TID())
	default:
		outcome = c.processCardRead(resp.TID())
	}

	c.completeFollowUp(epoch, outcome)
}

func (c *CardOperationController) processCardRead(tid string) followUpOutcome {
	if tid == "" {
		return failedOutcome(MsgCardIdentifierAbsent)
	}

	customers, err := c.customers.Search(c.ctx, &repository.CustomerFilter{CardTID: &tid, Limit: 1})
	if err != nil {
		c.logger.Error("Failed to look up card holder", zap.String("tid", tid), zap.Error(err))
		return failedOutcome(MsgReadCardInfoFailed)
	}

	found := len(customers) > 0
	result := &model.CardResult{
		Success:       true,
		Operation:     model.OperationRead,
		TID:           tid,
		CustomerFound: &found,
	}
	if found {
		customer := customers[0]
		balance := customer.Balance
		result.CustomerID = customer.ID
		result.CustomerName = customer.Name
		result.CustomerBalance = &balance
	}

	return followUpOutcome{result: result}
}

func (c *CardOperationController) processBalanceRead(resp *protocol.DeviceResponse) followUpOutcome {
	if resp == nil {
		return failedOutcome(MsgReadBalanceFailed)
	}

	result := &model.CardResult{
		Success:   true,
		Operation: model.OperationBalance,
		TID:       resp.TID(),
		CardInfo:  resp.CardInfo,
	}

	// a missing or falsy message reads as zero; other text is passed through
	balance, ok := resp.MessageDecimal()
	switch {
	case ok:
		result.Balance = &balance
	case resp.HasMessage():
		result.BalanceText = resp.MessageText()
	default:
		zero := decimal.Zero
		result.Balance = &zero
	}

	return followUpOutcome{result: result}
}

func (c *CardOperationController) processWrite(resp *protocol.DeviceResponse) followUpOutcome {
	if !resp.Succeeded() && !resp.HasCode(protocol.CodeWritten) {
		c.audit.LogCardWrite(utils.CardWriteAudit{
			CardTID:   resp.TID(),
			SessionID: c.opts.SessionID.String(),
			Data:      c.opts.Data,
		})
		return failedOutcome(resp.ErrorMessage(MsgWriteFailed))
	}

	result := &model.CardResult{
		Success:     true,
		Operation:   model.OperationWrite,
		TID:         resp.TID(),
		WrittenData: c.opts.Data,
	}
	if money, ok := resp.MessageDecimal(); ok {
		result.CurrentMoney = &money
	}

	c.audit.LogCardWrite(utils.CardWriteAudit{
		CardTID:   result.TID,
		SessionID: c.opts.SessionID.String(),
		Data:      c.opts.Data,
		Succeeded: true,
	})
	return followUpOutcome{result: result}
}

// processPayment debits the card holder. The balance check and the debit
// use the record fetched here; nothing is cached across polls.
func (c *CardOperationController) processPayment(epoch uint64, tid string) followUpOutcome {
	if tid == "" {
		return failedOutcome(MsgCardIdentifierAbsent)
	}

	customers, err := c.customers.Search(c.ctx, &repository.CustomerFilter{CardTID: &tid, Limit: 1})
	if err != nil {
		c.logger.Error("Failed to look up paying customer", zap.String("tid", tid), zap.Error(err))
		return failedOutcome(MsgPaymentFailed)
	}
	if len(customers) == 0 {
		return failedOutcome(MsgCardNotFound)
	}

	customer := customers[0]
	amount := decimal.NewFromInt(c.opts.Amount)
	if !customer.CanAfford(amount) {
		return followUpOutcome{
			errorMessage: MsgInsufficientBalance,
			notification: &model.Notification{
				Level:   NotificationWarning,
				Message: fmt.Sprintf("Insufficient balance. Current balance: %s", customer.Balance.String()),
			},
		}
	}

	// a disposed or retried session must not debit
	if !c.followUpCurrent(epoch) {
		return failedOutcome(MsgPaymentFailed)
	}

	oldBalance := customer.Balance
	newBalance := oldBalance.Sub(amount)
	audit := utils.PaymentAudit{
		CardTID:    tid,
		SessionID:  c.opts.SessionID.String(),
		CustomerID: customer.ID,
		Amount:     c.opts.Amount,
		OldBalance: oldBalance,
		NewBalance: newBalance,
		Currency:   c.currency(customer),
	}

	// TODO: make the debit conditional on the balance read above once the
	// customer store exposes a compare-and-set update.
	if err := c.customers.UpdateBalance(c.ctx, []int64{customer.ID}, newBalance); err != nil {
		c.logger.Error("Failed to debit customer balance",
			zap.Int64("customer_id", customer.ID),
			zap.Error(err),
		)
		audit.NewBalance = oldBalance
		c.audit.LogPayment(audit)
		return failedOutcome(MsgPaymentFailed)
	}

	audit.Succeeded = true
	c.audit.LogPayment(audit)

	return followUpOutcome{
		result: &model.CardResult{
			Success:      true,
			Operation:    model.OperationPayment,
			TID:          tid,
			CustomerID:   customer.ID,
			CustomerName: customer.Name,
			Amount:       c.opts.Amount,
			OldBalance:   &oldBalance,
			NewBalance:   &newBalance,
		},
		closeAfterConfirm: true,
	}
}

func (c *CardOperationController) currency(customer *model.Customer) string {
	if customer.Currency != "" {
		return customer.Currency
	}
	return c.config.Currency
}

// followUpCurrent reports whether the follow-up started in epoch may still
// change the session
func (c *CardOperationController) followUpCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && !c.ended && c.epoch == epoch && c.phase == PhaseScanning
}

// completeFollowUp applies the outcome unless the session moved on
func (c *CardOperationController) completeFollowUp(epoch uint64, outcome followUpOutcome) {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.epoch != epoch || c.phase != PhaseScanning {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale follow-up outcome")
		return
	}

	if outcome.errorMessage != "" {
		c.failLocked(outcome.errorMessage, &fx)
	} else {
		c.result = outcome.result
		c.setPhaseLocked(PhaseSuccess, &fx)
		c.opLogger.Succeeded(zap.String("tid", outcome.result.TID))
		c.scheduleConfirmLocked(epoch, outcome.closeAfterConfirm)
	}
	if n := outcome.notification; n != nil {
		c.notifyLocked(n.Level, n.Message, &fx)
	}
	c.mu.Unlock()

	c.run(fx)
}

func (c *CardOperationController) scheduleConfirmLocked(epoch uint64, closeAfter bool) {
	c.stopConfirmTimerLocked()

	delay := c.config.confirmDelay(c.opts.Kind)
	c.confirmTimer = time.AfterFunc(delay, func() {
		c.autoConfirm(epoch, closeAfter)
	})
}

// autoConfirm confirms a successful session after its display delay
func (c *CardOperationController) autoConfirm(epoch uint64, closeAfter bool) {
	var fx effects

	c.mu.Lock()
	if !c.alive || c.epoch != epoch || c.phase != PhaseSuccess {
		c.mu.Unlock()
		return
	}
	c.confirmTimer = nil
	c.cleanupLocked(&fx)
	c.deliverResultLocked(c.result, &fx)
	if closeAfter {
		c.requestCloseLocked(&fx)
	}
	release := c.endLocked()
	c.mu.Unlock()

	release()
	c.run(fx)
}
