package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientCommandWireFormat(t *testing.T) {
	var cmd clientCommand
	assert.NoError(t, json.Unmarshal([]byte(`{"type":"subscribe","room":"tasks"}`), &cmd))
	assert.Equal(t, "subscribe", cmd.Type)
	assert.Equal(t, "tasks", cmd.Room)

	assert.NoError(t, json.Unmarshal([]byte(`{"type":"unsubscribe","room":"agents"}`), &cmd))
	assert.Equal(t, "unsubscribe", cmd.Type)
}

func TestDeliverableRoomScoping(t *testing.T) {
	client := &Client{rooms: map[string]bool{RoomTasks: true}}

	// 已订阅的房间收到，未订阅的房间收不到
	assert.True(t, client.deliverable(RoomTasks))
	assert.False(t, client.deliverable(RoomAgents))

	// 无房间的事件对所有客户端投递，包括零订阅的客户端
	assert.True(t, client.deliverable(""))
	bare := &Client{rooms: map[string]bool{}}
	assert.True(t, bare.deliverable(""))
}

func TestModeChangedEventName(t *testing.T) {
	assert.Equal(t, "system.mode_changed", EventModeChanged)
}
