// internal/protocol/response.go
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Response codes reported by the reader
const (
	CodeOK                  = 200
	CodeWritten             = 201
	CodeNoContent           = 204
	CodeBareSuccess         = 205
	CodeCardNotFound        = 406
	CodeInsufficientBalance = 407
	CodeServerError         = 500
)

// ackMarkers are the first characters of the reader's command echoes
var ackMarkers = map[byte]struct{}{
	'g': {},
	'q': {},
	'G': {},
	't': {},
	'd': {},
}

// ResponseClass is the outcome of classifying one inbound message
type ResponseClass int

const (
	// ResponseIgnored covers empty messages and command echoes
	ResponseIgnored ResponseClass = iota
	// ResponseConsumed is structured data with no terminal meaning
	ResponseConsumed
	ResponseCardNotFound
	ResponseInsufficientBalance
	ResponseSuccess
	ResponseDeviceError
	ResponseMalformed
)

func (c ResponseClass) String() string {
	switch c {
	case ResponseIgnored:
		return "ignored"
	case ResponseConsumed:
		return "consumed"
	case ResponseCardNotFound:
		return "card_not_found"
	case ResponseInsufficientBalance:
		return "insufficient_balance"
	case ResponseSuccess:
		return "success"
	case ResponseDeviceError:
		return "device_error"
	case ResponseMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the class ends the polling phase
func (c ResponseClass) IsTerminal() bool {
	switch c {
	case ResponseCardNotFound, ResponseInsufficientBalance, ResponseSuccess,
		ResponseDeviceError, ResponseMalformed:
		return true
	}
	return false
}

// DeviceResponse is a parsed structured reader message
type DeviceResponse struct {
	Raw      string
	code     json.RawMessage
	message  json.RawMessage
	tid      json.RawMessage
	success  json.RawMessage
	errField json.RawMessage
	CardInfo json.RawMessage

	// bare is set when the whole payload is a JSON number
	bare *json.Number
}

// Code returns the numeric code field, if the payload carries one
func (r *DeviceResponse) Code() (int, bool) {
	if r == nil || len(r.code) == 0 {
		return 0, false
	}
	var n json.Number
	if err := unmarshalNumber(r.code, &n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// HasCode checks the parsed code field
func (r *DeviceResponse) HasCode(code int) bool {
	c, ok := r.Code()
	return ok && c == code
}

// IsBare reports whether the entire payload is the number code. The reader
// signals one success variant this way instead of through the code field.
func (r *DeviceResponse) IsBare(code int) bool {
	if r == nil || r.bare == nil {
		return false
	}
	f, err := r.bare.Float64()
	return err == nil && f == float64(code)
}

// TID returns the card identifier reported by the reader
func (r *DeviceResponse) TID() string {
	if r == nil {
		return ""
	}
	return scalarText(r.tid)
}

// MessageText returns the message field rendered as text
func (r *DeviceResponse) MessageText() string {
	if r == nil {
		return ""
	}
	return scalarText(r.message)
}

// MessageDecimal returns the message field as a number; the reader uses it
// for balances, encoded either as a JSON number or a numeric string.
func (r *DeviceResponse) MessageDecimal() (decimal.Decimal, bool) {
	text := r.MessageText()
	if text == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Succeeded reports the explicit success flag
func (r *DeviceResponse) Succeeded() bool {
	return r != nil && truthy(r.success)
}

// HasError reports the explicit error marker
func (r *DeviceResponse) HasError() bool {
	return r != nil && truthy(r.errField)
}

// HasMessage reports whether the message field carries a truthy value
func (r *DeviceResponse) HasMessage() bool {
	return r != nil && truthy(r.message)
}

// ErrorMessage returns the reader's message when it is usable as error text
func (r *DeviceResponse) ErrorMessage(fallback string) string {
	if !r.HasMessage() {
		return fallback
	}
	return r.MessageText()
}

// Classify turns one inbound payload into a response class. Empty payloads
// and command echoes are ignored without parsing.
func Classify(payload string) (*DeviceResponse, ResponseClass, error) {
	if payload == "" {
		return nil, ResponseIgnored, nil
	}
	if _, ok := ackMarkers[payload[0]]; ok {
		return nil, ResponseIgnored, nil
	}

	resp, err := ParseResponse(payload)
	if err != nil {
		return nil, ResponseMalformed, err
	}

	switch {
	case resp.HasCode(CodeCardNotFound):
		return resp, ResponseCardNotFound, nil
	case resp.HasCode(CodeInsufficientBalance):
		return resp, ResponseInsufficientBalance, nil
	case resp.HasCode(CodeOK), resp.HasCode(CodeWritten), resp.HasCode(CodeNoContent),
		resp.IsBare(CodeBareSuccess):
		return resp, ResponseSuccess, nil
	case resp.HasCode(CodeServerError), resp.HasError():
		return resp, ResponseDeviceError, nil
	default:
		return resp, ResponseConsumed, nil
	}
}

// ParseResponse decodes a structured reader payload. Non-object JSON values
// other than null are accepted and carry no fields.
func ParseResponse(payload string) (*DeviceResponse, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid device payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid device payload: trailing data")
	}

	resp := &DeviceResponse{Raw: payload}
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("invalid device payload: null")
	case json.Number:
		resp.bare = &v
		return resp, nil
	case map[string]interface{}:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return nil, fmt.Errorf("invalid device payload: %w", err)
		}
		resp.code = fields["code"]
		resp.message = fields["message"]
		resp.tid = fields["tid"]
		resp.success = fields["success"]
		resp.errField = fields["error"]
		if info, ok := fields["card_info"]; ok && !isNull(info) {
			resp.CardInfo = info
		}
		return resp, nil
	default:
		return resp, nil
	}
}

func unmarshalNumber(raw json.RawMessage, n *json.Number) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return fmt.Errorf("not a number")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("not a number")
	}
	*n = num
	return nil
}

// scalarText renders strings and numbers as text; other values as raw JSON
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := unmarshalNumber(raw, &n); err == nil {
		return n.String()
	}
	return string(bytes.TrimSpace(raw))
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// truthy follows the reader's loose boolean convention: absent, null, false,
// zero and empty string are false; everything else is true.
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return false
	}
	var n json.Number
	if err := unmarshalNumber(trimmed, &n); err == nil {
		f, err := strconv.ParseFloat(n.String(), 64)
		return err == nil && f != 0
	}
	return true
}
