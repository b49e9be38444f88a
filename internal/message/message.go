package message

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Message types carried in the msgType field
const (
	TypePrivmsg   = "PRIVMSG"
	TypeClearChat = "CLEARCHAT"
	TypeClearMsg  = "CLEARMSG"
)

// Instruction subtypes
const (
	SubtypeClearChat          = "CLEAR_CHAT"
	SubtypeRemoveUserMessages = "REMOVE_USER_MESSAGES"
	SubtypeSingle             = "SINGLE"
)

// Platform names
const (
	PlatformTwitch = "twitch"
	PlatformKick   = "kick"
)

// ChatMessage is a chat line as delivered to overlays
type ChatMessage struct {
	MsgType         string  `json:"msgType"`
	Platform        string  `json:"platform,omitempty"`
	Channel         string  `json:"channel"`   // Channel name the message was sent in
	ChannelID       string  `json:"channelId"` // Platform-specific channel ID
	User            User    `json:"user"`
	UserBadges      []Badge `json:"userBadges"`
	NicknameColor   Color   `json:"nicknameColor"`
	Message         string  `json:"message"` // Text, with emotes rewritten to <!id:urls:effect:name>
	MessageID       string  `json:"messageId"`
	ServerTimestamp string  `json:"serverTimestamp"`
}

// User identifies the sender of a chat message
type User struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"` // Login name
	DisplayName string `json:"displayName"`
}

// Badge is a (name, url) pair, encoded as a two element JSON array
type Badge [2]string

// Name returns the badge name.
func (b Badge) Name() string { return b[0] }

// URL returns the badge image reference.
func (b Badge) URL() string { return b[1] }

// Color is an RGB triple, encoded as [r, g, b]
type Color [3]uint8

// SimpleMessage is the minimal {user, message} chat line
type SimpleMessage struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// Instruction asks overlays to drop previously shown chat lines
type Instruction struct {
	MsgType      string `json:"msgType"`
	MsgSubtype   string `json:"msgSubtype"`
	AssociatedID string `json:"associatedId"`
}

// Forwardable reports whether the message is a displayable PRIVMSG.
func (m ChatMessage) Forwardable() bool {
	return m.MsgType == TypePrivmsg && m.User.UserName != "" && m.Message != ""
}

// Simple converts the message to its minimal form.
func (m ChatMessage) Simple() SimpleMessage {
	name := m.User.DisplayName
	if name == "" {
		name = m.User.UserName
	}
	return SimpleMessage{User: name, Message: m.Message}
}

// Matches reports whether the instruction targets msg.
func (i Instruction) Matches(msg ChatMessage) bool {
	switch {
	case i.MsgType == TypeClearChat && i.MsgSubtype == SubtypeClearChat:
		return true
	case i.MsgType == TypeClearChat && i.MsgSubtype == SubtypeRemoveUserMessages:
		return msg.User.UserID == i.AssociatedID
	case i.MsgType == TypeClearMsg:
		return msg.MessageID == i.AssociatedID
	}
	return false
}

// NicknameColor derives a stable, readable color from a login name.
func NicknameColor(login string) Color {
	var hash uint32
	for _, r := range login {
		hash = (hash + uint32(r)) * 31
	}

	hue := float64(hash % 360)
	const saturation, lightness = 0.75, 0.65

	c := (1 - math.Abs(2*lightness-1)) * saturation
	x := c * (1 - math.Abs(math.Mod(hue/60, 2)-1))
	m := lightness - c/2

	var r, g, b float64
	switch int(hue / 60) {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return Color{uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255)}
}

// ParseHexColor parses "#rrggbb" (the leading # is optional).
func ParseHexColor(s string) (Color, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	return Color{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}
