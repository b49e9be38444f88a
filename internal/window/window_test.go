package window

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_NeverExceedsMax(t *testing.T) {
	var q []int
	for i := 0; i < 100; i++ {
		q = Append(q, i, DefaultSize)
		require.LessOrEqual(t, len(q), DefaultSize)
	}

	require.Len(t, q, DefaultSize)
	for i, v := range q {
		assert.Equal(t, 70+i, v, "position %d", i)
	}
}

func TestAppend_BelowCapacityKeepsEverything(t *testing.T) {
	var q []string
	q = Append(q, "a", 3)
	q = Append(q, "b", 3)

	assert.Equal(t, []string{"a", "b"}, q)
}

func TestAppend_DropsOldestOnOverflow(t *testing.T) {
	q := []string{"a", "b", "c"}
	q = Append(q, "d", 3)

	assert.Equal(t, []string{"b", "c", "d"}, q)
}

func TestAppend_DoesNotMutateInput(t *testing.T) {
	base := make([]int, 2, 10)
	base[0], base[1] = 1, 2

	first := Append(base, 3, 5)
	second := Append(base, 4, 5)

	assert.Equal(t, []int{1, 2, 3}, first)
	assert.Equal(t, []int{1, 2, 4}, second)
	assert.Equal(t, []int{1, 2}, base)
}

func TestWindow_PushAndItems(t *testing.T) {
	w := New[int](3)
	for i := 1; i <= 5; i++ {
		w.Push(i)
	}

	assert.Equal(t, []int{3, 4, 5}, w.Items())
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindow_DefaultSize(t *testing.T) {
	w := New[int](0)
	assert.Equal(t, DefaultSize, w.Cap())
}

func TestWindow_ItemsReturnsCopy(t *testing.T) {
	w := New[string](5)
	w.Push("a")

	items := w.Items()
	items[0] = "modified"

	assert.Equal(t, []string{"a"}, w.Items())
}

func TestWindow_Recent(t *testing.T) {
	w := New[int](10)
	for i := 1; i <= 4; i++ {
		w.Push(i)
	}

	assert.Equal(t, []int{3, 4}, w.Recent(2))
	assert.Equal(t, []int{1, 2, 3, 4}, w.Recent(10))
	assert.Nil(t, w.Recent(0))
	assert.Nil(t, New[int](3).Recent(2))
}

func TestWindow_RemoveFunc(t *testing.T) {
	w := New[int](10)
	for i := 1; i <= 6; i++ {
		w.Push(i)
	}

	removed := w.RemoveFunc(func(v int) bool { return v%2 == 0 })

	assert.Equal(t, 3, removed)
	assert.Equal(t, []int{1, 3, 5}, w.Items())
}

func TestWindow_Reset(t *testing.T) {
	w := New[int](3)
	w.Push(1)
	w.Reset()

	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Items())
}

func TestWindow_ConcurrentPush(t *testing.T) {
	w := New[int](DefaultSize)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultSize, w.Len())
}
