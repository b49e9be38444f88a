package twitch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/emote"
	"github.com/john/orchid/internal/message"
)

// Publisher receives converted chat events. *bus.Bus satisfies it.
type Publisher interface {
	PublishJSON(kind bus.Kind, channel string, v any) error
}

// Connector manages the Twitch IRC connection
type Connector struct {
	username string
	channels []string
	client   *twitch.Client
	pub      Publisher
	emotes   *emote.Processor

	mu  sync.RWMutex
	ctx context.Context
}

// New creates a connector. Without both username and oauth token the
// connection is anonymous, which is enough to read chat. emotes may be nil.
func New(username, oauth string, channels []string, pub Publisher, emotes *emote.Processor) *Connector {
	var client *twitch.Client
	if username == "" || oauth == "" {
		client = twitch.NewAnonymousClient()
		username = ""
	} else {
		if !strings.HasPrefix(oauth, "oauth:") {
			oauth = "oauth:" + oauth
		}
		client = twitch.NewClient(username, oauth)
	}

	if emotes == nil {
		emotes = emote.NewProcessor()
	}

	return &Connector{
		username: username,
		channels: channels,
		client:   client,
		pub:      pub,
		emotes:   emotes,
		ctx:      context.Background(),
	}
}

// Start connects and blocks until ctx is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.client.OnPrivateMessage(c.handlePrivateMessage)
	c.client.OnClearChatMessage(c.handleClearChat)
	c.client.OnClearMessage(c.handleClearMessage)
	c.client.OnNoticeMessage(func(msg twitch.NoticeMessage) {
		slog.Warn("twitch notice", "channel", msg.Channel, "msg_id", msg.MsgID, "message", msg.Message)
	})

	c.client.OnConnect(func() {
		slog.Info("connected to twitch irc", "anonymous", c.username == "")
	})
	c.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		slog.Info("twitch irc requested reconnect")
	})

	if len(c.channels) > 0 {
		c.Join(c.channels...)
	}

	go func() {
		err := c.client.Connect()
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			slog.Error("twitch irc connection error", "error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("disconnecting from twitch irc")
	if err := c.client.Disconnect(); err != nil {
		slog.Debug("twitch irc disconnect", "error", err)
	}
	return ctx.Err()
}

// Join joins channels. It may be called before Start.
func (c *Connector) Join(channels ...string) {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, strings.ToLower(strings.TrimPrefix(ch, "#")))
	}
	c.client.Join(names...)
	slog.Info("joined twitch channels", "channels", names)
}

// Depart leaves channel.
func (c *Connector) Depart(channel string) {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	c.client.Depart(channel)
	slog.Info("departed twitch channel", "channel", channel)
}

func (c *Connector) runContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *Connector) handlePrivateMessage(msg twitch.PrivateMessage) {
	chat := convertPrivateMessage(msg)

	native := make([]emote.Emote, 0, len(msg.Emotes))
	for _, e := range msg.Emotes {
		native = append(native, emote.Twitch(e.ID, e.Name))
	}
	chat.Message = c.emotes.Process(c.runContext(), chat.Message, chat.User.UserName, chat.Channel, native...)

	c.publish(bus.KindChat, chat.Channel, chat)
}

func (c *Connector) handleClearChat(msg twitch.ClearChatMessage) {
	c.publish(bus.KindInstruction, msg.Channel, convertClearChat(msg))
}

func (c *Connector) handleClearMessage(msg twitch.ClearMessage) {
	c.publish(bus.KindInstruction, msg.Channel, convertClearMessage(msg))
}

func (c *Connector) publish(kind bus.Kind, channel string, v any) {
	if err := c.pub.PublishJSON(kind, strings.ToLower(channel), v); err != nil {
		slog.Error("failed to publish twitch event", "kind", kind, "channel", channel, "error", err)
	}
}

// convertPrivateMessage converts a PRIVMSG into the overlay chat format.
func convertPrivateMessage(msg twitch.PrivateMessage) message.ChatMessage {
	color, err := message.ParseHexColor(msg.User.Color)
	if err != nil {
		color = message.NicknameColor(msg.User.Name)
	}

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return message.ChatMessage{
		MsgType:   message.TypePrivmsg,
		Platform:  message.PlatformTwitch,
		Channel:   strings.TrimPrefix(msg.Channel, "#"),
		ChannelID: msg.RoomID,
		User: message.User{
			UserID:      msg.User.ID,
			UserName:    msg.User.Name,
			DisplayName: msg.User.DisplayName,
		},
		UserBadges:      formatBadges(msg.User.Badges),
		NicknameColor:   color,
		Message:         msg.Message,
		MessageID:       msg.ID,
		ServerTimestamp: ts.UTC().Format(time.RFC3339),
	}
}

// convertClearChat maps a CLEARCHAT to an instruction. Bans and timeouts
// both remove the target user's lines.
func convertClearChat(msg twitch.ClearChatMessage) message.Instruction {
	if msg.TargetUserID == "" {
		return message.Instruction{
			MsgType:    message.TypeClearChat,
			MsgSubtype: message.SubtypeClearChat,
		}
	}
	return message.Instruction{
		MsgType:      message.TypeClearChat,
		MsgSubtype:   message.SubtypeRemoveUserMessages,
		AssociatedID: msg.TargetUserID,
	}
}

func convertClearMessage(msg twitch.ClearMessage) message.Instruction {
	return message.Instruction{
		MsgType:      message.TypeClearMsg,
		MsgSubtype:   message.SubtypeSingle,
		AssociatedID: msg.TargetMsgID,
	}
}

// formatBadges converts the badges map to [name, version] pairs sorted by name
func formatBadges(badges map[string]int) []message.Badge {
	names := make([]string, 0, len(badges))
	for name := range badges {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]message.Badge, 0, len(names))
	for _, name := range names {
		out = append(out, message.Badge{name, strconv.Itoa(badges[name])})
	}
	return out
}
