package ipc

import (
	"encoding/json"
	"errors"
)

// Control commands understood by the running listener.
const (
	CommandStatus    = "status"
	CommandStop      = "stop"
	CommandForceStop = "force-stop"
	CommandTune      = "tune"
)

// Request is one newline-delimited JSON command sent to the running listener.
// Args carries key=value pairs for tune.
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response answers a Request. Data carries the status payload.
type Response struct {
	OK      bool            `json:"ok"`
	State   string          `json:"state,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Err turns a failed response into an error.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("listener rejected the command")
	}
	return errors.New(r.Error)
}
