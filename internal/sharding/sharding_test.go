package sharding

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		entityID string
		want     int
	}{
		{"user-1", 532},
		{"user-2", 942},
		{"todo-abc", 748},
	}

	for _, tt := range tests {
		t.Run(tt.entityID, func(t *testing.T) {
			assert.Equal(t, tt.want, GetShardID(tt.entityID))
		})
	}
}

func TestGetSubject(t *testing.T) {
	assert.Equal(t, "app.event.532.task.user-1", GetSubject("task", "user-1"))
	assert.Equal(t, GetSubject("task", "todo-abc"), TaskSubject("todo-abc"))
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	assert.Equal(t, GetShardID(id), GetShardID(id))
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("key-%d", i))]++
	}

	assert.GreaterOrEqual(t, len(distribution), 100, "too few shards used for 1000 keys")
}
