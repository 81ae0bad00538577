package model

import (
	"fmt"
	"time"
)

// ApprovalModuleCode is the sequence module that numbers approvals.
const ApprovalModuleCode = "APPR"

// DateKey buckets sequence values per calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// FormatApprovalID renders an allocated sequence value as AP<date><seq>.
func FormatApprovalID(dateKey string, seq int64) string {
	return fmt.Sprintf("AP%s%04d", dateKey, seq)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
