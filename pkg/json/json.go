// Package json is the JSON codec used across the scheduler. It is
// json-iterator configured to behave like encoding/json.
package json

import jsoniter "github.com/json-iterator/go"

var (
	// JSON is the jsoniter.API used throughout the codebase
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = JSON.Marshal
	Unmarshal  = JSON.Unmarshal
	NewDecoder = JSON.NewDecoder
	NewEncoder = JSON.NewEncoder
)

// RawMessage is a raw encoded JSON value.
type RawMessage = jsoniter.RawMessage
