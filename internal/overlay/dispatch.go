package overlay

import (
	"encoding/json"
	"log/slog"

	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
)

// Dispatcher routes inbound frames to typed handlers. Nil handlers drop
// their frames.
type Dispatcher struct {
	OnChat         func(message.ChatMessage)
	OnInstruction  func(message.Instruction)
	OnLayoutUpdate func(layout.Update)
	OnLayoutState  func([]layout.Item)
}

// envelope is decoded first to decide which shape a frame carries.
type envelope struct {
	MsgType     string          `json:"msgType"`
	Action      *layout.Action  `json:"action"`
	LayoutItems json.RawMessage `json:"layout_items"`
}

// HandleFrame decodes one text frame. Frames that are not JSON objects are
// ignored, and decode errors are logged and swallowed.
func (d *Dispatcher) HandleFrame(frame []byte) {
	if len(frame) == 0 || frame[0] != '{' {
		slog.Debug("ignoring non-json frame", "frame", string(frame))
		return
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		slog.Error("failed to parse frame", "error", err)
		return
	}

	switch {
	case env.MsgType == message.TypePrivmsg:
		var msg message.ChatMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			slog.Error("failed to parse chat message", "error", err)
			return
		}
		if !msg.Forwardable() {
			slog.Debug("dropping incomplete chat message", "messageId", msg.MessageID)
			return
		}
		if d.OnChat != nil {
			d.OnChat(msg)
		}

	case env.MsgType == message.TypeClearChat || env.MsgType == message.TypeClearMsg:
		var inst message.Instruction
		if err := json.Unmarshal(frame, &inst); err != nil {
			slog.Error("failed to parse instruction", "error", err)
			return
		}
		if d.OnInstruction != nil {
			d.OnInstruction(inst)
		}

	case env.MsgType != "":
		slog.Debug("ignoring message type", "msgType", env.MsgType)

	case env.Action != nil:
		var u layout.Update
		if err := json.Unmarshal(frame, &u); err != nil {
			slog.Error("failed to parse layout update", "error", err)
			return
		}
		if d.OnLayoutUpdate != nil {
			d.OnLayoutUpdate(u)
		}

	case env.LayoutItems != nil:
		var st layout.State
		if err := json.Unmarshal(frame, &st); err != nil {
			slog.Error("failed to parse layout state", "error", err)
			return
		}
		if d.OnLayoutState != nil {
			d.OnLayoutState(st.LayoutItems)
		}

	default:
		slog.Debug("ignoring unrecognized frame")
	}
}
