package shared

import "fmt"

// InstanceLockKey builds redis keys serializing step execution per workflow instance.
func InstanceLockKey(instanceID string) string {
	return fmt.Sprintf("workflow:instance:%s:lock", instanceID)
}

// ScoreCacheKey builds redis keys for cached priority scores.
func ScoreCacheKey(customerID int64) string {
	return fmt.Sprintf("scoring:customer:%d", customerID)
}
