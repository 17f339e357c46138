package realtime

import (
	"testing"

	redisrepo "neotasker/internal/repository/redis"

	"github.com/stretchr/testify/assert"
)

func TestRoomFromChannel(t *testing.T) {
	cases := []struct {
		channel string
		room    string
	}{
		{redisrepo.ChannelTasks, "tasks"},
		{redisrepo.ChannelAgents, "agents"},
		{redisrepo.ChannelAlerts, "alerts"},
		{redisrepo.ChannelSystem, "system"},
		{redisrepo.ChannelPrefix + "unknown", ""}, // 未知后缀映射空串，全量扇出
		{"other:events:tasks", ""},                // 前缀不匹配同样全量扇出
	}
	for _, c := range cases {
		assert.Equal(t, c.room, roomFromChannel(c.channel), "channel=%s", c.channel)
	}
}
