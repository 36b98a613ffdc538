package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of subject partitions.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// GetSubject returns the NATS event subject for an entity.
// Format: app.event.{shard_id}.{entity_type}.{entity_id}
func GetSubject(entityType, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("app.event.%d.%s.%s", shardID, entityType, entityID)
}

func TaskSubject(taskID string) string {
	return GetSubject("task", taskID)
}
