// Package layout holds the bottom-bar widget layout and the reducer that
// applies layout update commands to it.
package layout

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// Kind tags a layout item
type Kind string

const (
	KindPkTeam  Kind = "PkTeamLayout"
	KindPkBadge Kind = "PkBadgeLayout"
)

// Action is a layout update command
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionUpdate  Action = "update"
	ActionReorder Action = "reorder"
)

// Item is a positioned widget, unique by ID within a layout.
type Item struct {
	Type Kind  `json:"type" validate:"required,oneof=PkTeamLayout PkBadgeLayout"`
	ID   int64 `json:"id"`
}

// Update mutates a layout. Which of Item, ID and Order is required depends
// on Action.
type Update struct {
	Action Action  `json:"action" validate:"required,oneof=add remove update reorder"`
	Item   *Item   `json:"item,omitempty" validate:"required_if=Action add,required_if=Action update"`
	ID     *int64  `json:"id,omitempty" validate:"required_if=Action remove"`
	Order  []int64 `json:"order" validate:"required_if=Action reorder"`
}

// State is the full-layout snapshot frame.
type State struct {
	LayoutItems []Item `json:"layout_items"`
}

var validate = validator.New()

// Validate checks an update received from outside the process.
func Validate(u Update) error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("invalid layout update: %w", err)
	}
	return nil
}

// Apply returns the layout that results from applying u to items. items is
// never modified; when u cannot be applied items is returned as is.
func Apply(items []Item, u Update) []Item {
	switch u.Action {
	case ActionAdd:
		if u.Item == nil {
			return items
		}
		if indexOf(items, u.Item.ID) >= 0 {
			slog.Warn("layout item already present, ignoring add", "id", u.Item.ID)
			return items
		}
		next := make([]Item, 0, len(items)+1)
		next = append(next, items...)
		return append(next, *u.Item)

	case ActionRemove:
		if u.ID == nil {
			return items
		}
		next := make([]Item, 0, len(items))
		for _, it := range items {
			if it.ID != *u.ID {
				next = append(next, it)
			}
		}
		return next

	case ActionUpdate:
		if u.Item == nil {
			return items
		}
		next := make([]Item, len(items))
		for i, it := range items {
			if it.ID == u.Item.ID {
				it = *u.Item
			}
			next[i] = it
		}
		return next

	case ActionReorder:
		if u.Order == nil {
			return items
		}
		// Items missing from the order are dropped as well.
		next := make([]Item, 0, len(u.Order))
		used := make(map[int64]bool, len(u.Order))
		for _, id := range u.Order {
			if used[id] {
				continue
			}
			if i := indexOf(items, id); i >= 0 {
				next = append(next, items[i])
				used[id] = true
			}
		}
		return next

	default:
		slog.Warn("unknown layout action", "action", u.Action)
		return items
	}
}

func indexOf(items []Item, id int64) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
