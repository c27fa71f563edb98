package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActiveRoomsOrder(t *testing.T) {
	a := newActiveRooms()
	var snapshots [][]string
	record := func(names []string) { snapshots = append(snapshots, names) }

	a.set("javascript", true, record)
	a.set("css", true, record)
	a.set("html", true, record)
	assert.Equal(t, []string{"javascript", "css", "html"}, a.names())

	a.set("css", false, record)
	assert.Equal(t, []string{"javascript", "html"}, a.names(), "expected empty room to be hidden")

	a.set("css", true, record)
	assert.Equal(t, []string{"javascript", "css", "html"}, a.names(), "expected refilled room to keep its position")

	assert.Len(t, snapshots, 5, "expected one notification per change")
	assert.Equal(t, []string{"javascript", "html"}, snapshots[3])
}

func TestActiveRoomsNoChange(t *testing.T) {
	a := newActiveRooms()
	calls := 0
	notify := func([]string) { calls++ }

	a.set("css", true, notify)
	a.set("css", true, notify)
	a.set("html", false, notify)

	assert.Equal(t, 1, calls, "expected repeated state to skip notification")
}

func TestActiveRoomsForget(t *testing.T) {
	a := newActiveRooms()
	a.set("javascript", true, nil)
	a.set("css", true, nil)

	a.forget("javascript")
	assert.Equal(t, []string{"javascript", "css"}, a.names(), "expected active room to stay")

	a.set("javascript", false, nil)
	a.forget("javascript")
	a.set("javascript", true, nil)
	assert.Equal(t, []string{"css", "javascript"}, a.names(), "expected forgotten room to be reordered")
}
