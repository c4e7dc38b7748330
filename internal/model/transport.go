// internal/model/transport.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TransportType represents how the card reader is reached
type TransportType string

const (
	TransportWebSocket TransportType = "WEBSOCKET"
	TransportTCP       TransportType = "TCP"
	TransportSerial    TransportType = "SERIAL"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONObject source type %T", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ToJSONObject converts any JSON-serializable value into a JSONObject
func ToJSONObject(v interface{}) (JSONObject, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var obj JSONObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("value is not a JSON object: %w", err)
	}
	return obj, nil
}
