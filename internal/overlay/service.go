// Package overlay is the client side of an overlay page: the chat and
// layout stores and the service that feeds them from a backend socket.
package overlay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
)

// Connection is the socket a Service reads from. *socket.Client satisfies it.
type Connection interface {
	OnMessage(fn func(frame []byte))
	Connect(ctx context.Context) error
	Disconnect()
	Send(text string)
}

// Service wires a connection to the chat and layout stores.
type Service struct {
	conn   Connection
	chat   *ChatStore
	layout *LayoutStore
}

func NewService(conn Connection, chat *ChatStore, layouts *LayoutStore) *Service {
	s := &Service{
		conn:   conn,
		chat:   chat,
		layout: layouts,
	}

	d := &Dispatcher{
		OnChat:         chat.AddMessage,
		OnInstruction:  s.applyInstruction,
		OnLayoutUpdate: layouts.Update,
		OnLayoutState:  layouts.SetItems,
	}
	conn.OnMessage(d.HandleFrame)
	return s
}

// Start connects. Reconnection is left to the connection.
func (s *Service) Start(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect overlay socket: %w", err)
	}
	return nil
}

// Stop disconnects and cancels any pending reconnect.
func (s *Service) Stop() {
	s.conn.Disconnect()
}

// Send forwards text to the backend.
func (s *Service) Send(text string) {
	s.conn.Send(text)
}

func (s *Service) Chat() *ChatStore {
	return s.chat
}

func (s *Service) Layout() *LayoutStore {
	return s.layout
}

// Items is shorthand for the current layout.
func (s *Service) Items() []layout.Item {
	return s.layout.Items()
}

func (s *Service) applyInstruction(inst message.Instruction) {
	n := s.chat.ApplyInstruction(inst)
	slog.Debug("applied chat instruction",
		"msgType", inst.MsgType, "msgSubtype", inst.MsgSubtype, "removed", n)
}
