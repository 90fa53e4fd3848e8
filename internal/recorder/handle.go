package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keralacert/voiceassist/internal/fsm"
	"github.com/keralacert/voiceassist/internal/ipc"
)

// StatusPayload is the JSON form of Status served over IPC and HTTP.
type StatusPayload struct {
	State           string    `json:"state"`
	Volume          float64   `json:"volume"`
	Speaking        bool      `json:"speaking"`
	Paused          bool      `json:"paused"`
	SessionID       string    `json:"session_id,omitempty"`
	RecordingMS     int64     `json:"recording_ms"`
	PeakReached     bool      `json:"peak_reached"`
	LowFrames       int       `json:"low_frames"`
	SpeechThreshold float64   `json:"speech_threshold"`
	MaxRecordingSec int       `json:"max_recording_seconds"`
	StopSensitivity int       `json:"stop_sensitivity"`
	History         []float64 `json:"history"`
}

// Payload converts s into its wire form.
func (s Status) Payload() StatusPayload {
	history := make([]float64, len(s.History))
	for i, v := range s.History {
		history[i] = float64(v)
	}
	return StatusPayload{
		State:           string(s.State),
		Volume:          float64(s.Volume),
		Speaking:        s.Speaking,
		Paused:          s.Paused,
		SessionID:       s.SessionID,
		RecordingMS:     s.Elapsed.Milliseconds(),
		PeakReached:     s.PeakReached,
		LowFrames:       s.LowFrames,
		SpeechThreshold: s.Tunables.SpeechThreshold,
		MaxRecordingSec: int(s.Tunables.MaxRecording / time.Second),
		StopSensitivity: s.Tunables.StopSensitivity,
		History:         history,
	}
}

// Handle serves IPC commands for the running listener.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.handleStatus()
	case ipc.CommandStop:
		return c.requestStop()
	case ipc.CommandForceStop:
		return c.requestForceStop()
	case ipc.CommandTune:
		return c.requestTune(req.Args)
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) handleStatus() ipc.Response {
	status := c.Status()
	data, err := json.Marshal(status.Payload())
	if err != nil {
		return ipc.Response{OK: false, State: string(status.State), Error: fmt.Sprintf("encode status: %v", err)}
	}
	return ipc.Response{OK: true, State: string(status.State), Message: "status", Data: data}
}

func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	if state == fsm.StateProcessing {
		return ipc.Response{OK: false, State: string(state), Error: "already processing"}
	}
	if err := c.Stop(); err != nil {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}
	return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
}

func (c *Controller) requestForceStop() ipc.Response {
	state := c.State()
	if !state.Active() {
		return ipc.Response{OK: false, State: string(state), Error: "not listening"}
	}
	c.ForceStop()
	return ipc.Response{OK: true, State: string(state), Message: "force-stop requested"}
}

func (c *Controller) requestTune(args map[string]string) ipc.Response {
	tunables, err := ParseTunables(c.Settings().Tunables, args)
	if err == nil {
		err = c.SetTunables(tunables)
	}
	if err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: "tunables updated"}
}

// ParseTunables overlays key=value style args onto base. Unknown keys are
// rejected.
func ParseTunables(base Tunables, args map[string]string) (Tunables, error) {
	if len(args) == 0 {
		return base, fmt.Errorf("no tunables given")
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := base
	for _, key := range keys {
		raw := strings.TrimSpace(args[key])
		switch key {
		case "speech_threshold":
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return base, fmt.Errorf("speech_threshold: invalid number %q", raw)
			}
			out.SpeechThreshold = v
		case "max_recording_seconds":
			v, err := strconv.Atoi(raw)
			if err != nil {
				return base, fmt.Errorf("max_recording_seconds: invalid integer %q", raw)
			}
			out.MaxRecording = time.Duration(v) * time.Second
		case "stop_sensitivity":
			v, err := strconv.Atoi(raw)
			if err != nil {
				return base, fmt.Errorf("stop_sensitivity: invalid integer %q", raw)
			}
			out.StopSensitivity = v
		default:
			return base, fmt.Errorf("unknown tunable %q", key)
		}
	}
	return out, nil
}
