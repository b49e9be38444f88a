package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	kickchat "github.com/johanvandegriff/kick-chat-wrapper"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/message"
)

const DefaultAPIBaseURL = "https://kick.com/api/v2"

// ChannelResponse is the subset of the Kick channel API we use
type ChannelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// ChannelConfig represents a Kick channel with optional pre-configured chatroom ID
type ChannelConfig struct {
	Slug       string `yaml:"slug"`
	ChatroomID int    `yaml:"chatroom_id,omitempty"` // 0 means not pre-configured, needs resolution
}

// Publisher receives converted chat events. *bus.Bus satisfies it.
type Publisher interface {
	PublishJSON(kind bus.Kind, channel string, v any) error
}

// Connector manages Kick chat connections
type Connector struct {
	channels   []ChannelConfig
	apiBaseURL string
	channelIDs map[string]int // channel slug -> chatroom ID
	idToSlug   map[int]string // chatroom ID -> channel slug
	client     *kickchat.Client
	pub        Publisher
}

// New creates a new Kick connector
func New(channels []ChannelConfig, pub Publisher) *Connector {
	return &Connector{
		channels:   channels,
		apiBaseURL: DefaultAPIBaseURL,
		channelIDs: make(map[string]int),
		idToSlug:   make(map[int]string),
		pub:        pub,
	}
}

// Start resolves channels, joins their chatrooms and publishes messages
// until ctx is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	slog.Info("resolving kick channel ids", "channels", len(c.channels))
	for _, channel := range c.channels {
		chatroomID, slug := channel.ChatroomID, channel.Slug
		if chatroomID > 0 {
			slog.Info("using pre-configured kick channel", "slug", slug, "chatroom_id", chatroomID)
		} else {
			resp, err := ResolveChannel(ctx, c.apiBaseURL, channel.Slug)
			if err != nil {
				slog.Warn("failed to resolve kick channel, skipping", "slug", channel.Slug, "error", err)
				continue
			}
			chatroomID, slug = resp.Chatroom.ID, resp.Slug
			slog.Info("resolved kick channel", "slug", slug, "chatroom_id", chatroomID)
		}

		c.channelIDs[slug] = chatroomID
		c.idToSlug[chatroomID] = slug
	}

	if len(c.channelIDs) == 0 {
		return fmt.Errorf("no valid Kick channels could be resolved")
	}

	client, err := kickchat.NewClient()
	if err != nil {
		return fmt.Errorf("create kick client: %w", err)
	}
	c.client = client
	slog.Info("connected to kick websocket")

	for slug, chatroomID := range c.channelIDs {
		if err := c.client.JoinChannelByID(chatroomID); err != nil {
			slog.Warn("failed to join kick channel", "slug", slug, "chatroom_id", chatroomID, "error", err)
			continue
		}
		slog.Info("joined kick channel", "slug", slug)
	}

	messages := c.client.ListenForMessages()

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					slog.Info("kick message channel closed")
					return
				}
				chat := c.convertMessage(msg)
				if chat == nil {
					continue
				}
				if err := c.pub.PublishJSON(bus.KindChat, chat.Channel, chat); err != nil {
					slog.Error("failed to publish kick message", "channel", chat.Channel, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()

	slog.Info("disconnecting from kick chat")
	c.client.Close()
	return ctx.Err()
}

// ResolveChannel looks up a channel slug with the Kick API.
func ResolveChannel(ctx context.Context, baseURL, slug string) (*ChannelResponse, error) {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	url := fmt.Sprintf("%s/channels/%s", strings.TrimRight(baseURL, "/"), slug)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Browser-like headers; the API sits behind Cloudflare.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request channel %s: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kick api returned status %d: %s", resp.StatusCode, string(body))
	}

	var info ChannelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", slug, err)
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	return &info, nil
}

// convertMessage converts a Kick chat message to the overlay chat format.
func (c *Connector) convertMessage(msg kickchat.ChatMessage) *message.ChatMessage {
	slug, ok := c.idToSlug[msg.ChatroomID]
	if !ok {
		slog.Warn("received message from unknown kick chatroom", "chatroom_id", msg.ChatroomID)
		return nil
	}

	userID := strconv.Itoa(msg.Sender.ID)
	return &message.ChatMessage{
		MsgType:  message.TypePrivmsg,
		Platform: message.PlatformKick,
		Channel:  slug,
		// ChannelID carries the chatroom id; Kick has no separate room id in chat events.
		ChannelID: strconv.Itoa(msg.ChatroomID),
		User: message.User{
			UserID:      userID,
			UserName:    strings.ToLower(msg.Sender.Username),
			DisplayName: msg.Sender.Username,
		},
		UserBadges:      formatBadges(msg.Sender.Identity.Badges),
		NicknameColor:   message.NicknameColor(strings.ToLower(msg.Sender.Username)),
		Message:         msg.Content,
		MessageID:       uuid.NewString(),
		ServerTimestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// formatBadges converts Kick badges to [type, text] pairs
func formatBadges(badges []kickchat.Badge) []message.Badge {
	out := make([]message.Badge, 0, len(badges))
	for _, badge := range badges {
		out = append(out, message.Badge{badge.Type, badge.Text})
	}
	return out
}
