// Package jsonx routes JSON encoding on the polling and notification paths
// through goccy/go-json. Its API matches encoding/json.
package jsonx

import "github.com/goccy/go-json"

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewDecoder = json.NewDecoder
	NewEncoder = json.NewEncoder
	Valid      = json.Valid
)

type RawMessage = json.RawMessage
