package cache

import (
	"fmt"
)

// RevokeChannel is the pub/sub channel on which revoked job ids are announced.
const RevokeChannel = "jobs:revoke"

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("job:%d:status", jobID)
}

func RevokedKey(jobID int64) string {
	return fmt.Sprintf("revoked:%d", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
