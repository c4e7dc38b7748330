// internal/protocol/command.go
package protocol

import (
	"fmt"
	"strconv"

	"card-service/internal/model"
)

// Reader command vocabulary. Commands are case-sensitive plain text.
const (
	CommandHandshake   = "GetConnect"
	CommandReadTID     = "quet the tid"
	CommandReadBalance = "doc so du"

	commandWritePrefix   = "ghi epc|"
	commandPaymentPrefix = "thanh_toan|"

	// CommandSuffix terminates commands that embed an operand
	CommandSuffix = "x"
)

// WriteCommand asks the reader to write payload to the card
func WriteCommand(payload string) string {
	return commandWritePrefix + payload + CommandSuffix
}

// PaymentCommand asks the reader to debit amount from the card
func PaymentCommand(amount int64) string {
	return commandPaymentPrefix + strconv.FormatInt(amount, 10) + CommandSuffix
}

// CommandFor returns the poll command for an operation
func CommandFor(kind model.OperationKind, data string, amount int64) (string, error) {
	switch kind {
	case model.OperationRead:
		return CommandReadTID, nil
	case model.OperationBalance:
		return CommandReadBalance, nil
	case model.OperationWrite:
		if data == "" {
			return "", fmt.Errorf("write operation requires data")
		}
		return WriteCommand(data), nil
	case model.OperationPayment:
		if amount <= 0 {
			return "", fmt.Errorf("payment operation requires a positive amount, got %d", amount)
		}
		return PaymentCommand(amount), nil
	default:
		return "", fmt.Errorf("unknown operation kind: %s", kind)
	}
}
