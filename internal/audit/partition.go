package audit

import "time"

// PartitionName returns the monthly bucket for now, e.g. "glitteraudit-2024.03".
// The month is always taken in UTC.
func PartitionName(prefix string, now time.Time) string {
	return prefix + "-" + now.UTC().Format("2006.01")
}

// PartitionPattern matches every bucket created under prefix.
func PartitionPattern(prefix string) string {
	return prefix + "-*"
}
