package layout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(v int64) *int64 { return &v }

func sample() []Item {
	return []Item{
		{Type: KindPkTeam, ID: 1},
		{Type: KindPkBadge, ID: 2},
		{Type: KindPkTeam, ID: 3},
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		update Update
		want   []Item
	}{
		{
			name:   "add appends item",
			update: Update{Action: ActionAdd, Item: &Item{Type: KindPkBadge, ID: 4}},
			want:   append(sample(), Item{Type: KindPkBadge, ID: 4}),
		},
		{
			name:   "add without item is a no-op",
			update: Update{Action: ActionAdd},
			want:   sample(),
		},
		{
			name:   "add with existing id is ignored",
			update: Update{Action: ActionAdd, Item: &Item{Type: KindPkBadge, ID: 2}},
			want:   sample(),
		},
		{
			name:   "remove drops only the matching item",
			update: Update{Action: ActionRemove, ID: id(2)},
			want:   []Item{{Type: KindPkTeam, ID: 1}, {Type: KindPkTeam, ID: 3}},
		},
		{
			name:   "remove id zero",
			update: Update{Action: ActionRemove, ID: id(0)},
			want:   sample(),
		},
		{
			name:   "remove without id is a no-op",
			update: Update{Action: ActionRemove},
			want:   sample(),
		},
		{
			name:   "update replaces matching item",
			update: Update{Action: ActionUpdate, Item: &Item{Type: KindPkBadge, ID: 3}},
			want:   []Item{{Type: KindPkTeam, ID: 1}, {Type: KindPkBadge, ID: 2}, {Type: KindPkBadge, ID: 3}},
		},
		{
			name:   "update of unknown id does not insert",
			update: Update{Action: ActionUpdate, Item: &Item{Type: KindPkBadge, ID: 9}},
			want:   sample(),
		},
		{
			name:   "reorder drops omitted items",
			update: Update{Action: ActionReorder, Order: []int64{3, 1}},
			want:   []Item{{Type: KindPkTeam, ID: 3}, {Type: KindPkTeam, ID: 1}},
		},
		{
			name:   "reorder ignores unknown and repeated ids",
			update: Update{Action: ActionReorder, Order: []int64{2, 7, 2, 1, 3}},
			want:   []Item{{Type: KindPkBadge, ID: 2}, {Type: KindPkTeam, ID: 1}, {Type: KindPkTeam, ID: 3}},
		},
		{
			name:   "reorder with empty order clears",
			update: Update{Action: ActionReorder, Order: []int64{}},
			want:   []Item{},
		},
		{
			name:   "reorder without order is a no-op",
			update: Update{Action: ActionReorder},
			want:   sample(),
		},
		{
			name:   "unknown action is a no-op",
			update: Update{Action: "shuffle", Order: []int64{1}},
			want:   sample(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := sample()
			got := Apply(items, tt.update)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, sample(), items, "input must not be modified")
		})
	}
}

func TestApply_RemoveKeepsRelativeOrder(t *testing.T) {
	items := []Item{{Type: KindPkTeam, ID: 5}, {Type: KindPkTeam, ID: 3}, {Type: KindPkTeam, ID: 9}, {Type: KindPkTeam, ID: 1}}

	got := Apply(items, Update{Action: ActionRemove, ID: id(9)})

	assert.Equal(t, []Item{{Type: KindPkTeam, ID: 5}, {Type: KindPkTeam, ID: 3}, {Type: KindPkTeam, ID: 1}}, got)
}

func TestUpdate_DecodeDistinguishesMissingFields(t *testing.T) {
	var withOrder, withoutOrder Update
	require.NoError(t, json.Unmarshal([]byte(`{"action":"reorder","order":[]}`), &withOrder))
	require.NoError(t, json.Unmarshal([]byte(`{"action":"reorder"}`), &withoutOrder))

	assert.NotNil(t, withOrder.Order)
	assert.Nil(t, withoutOrder.Order)

	var remove Update
	require.NoError(t, json.Unmarshal([]byte(`{"action":"remove","id":0}`), &remove))
	require.NotNil(t, remove.ID)
	assert.Equal(t, int64(0), *remove.ID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		update  Update
		wantErr bool
	}{
		{"valid add", Update{Action: ActionAdd, Item: &Item{Type: KindPkTeam, ID: 1}}, false},
		{"add missing item", Update{Action: ActionAdd}, true},
		{"add bad kind", Update{Action: ActionAdd, Item: &Item{Type: "Banner", ID: 1}}, true},
		{"valid remove", Update{Action: ActionRemove, ID: id(1)}, false},
		{"remove missing id", Update{Action: ActionRemove}, true},
		{"valid reorder", Update{Action: ActionReorder, Order: []int64{1}}, false},
		{"reorder missing order", Update{Action: ActionReorder}, true},
		{"unknown action", Update{Action: "shuffle"}, true},
		{"missing action", Update{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.update)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
