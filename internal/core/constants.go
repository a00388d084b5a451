package core

import "time"

// Timeout defaults for title lookups
const (
	DefaultTitleFetchTimeout = 10 * time.Second
)

// Resource limits
const (
	MaxTitlePageSize = 2 * 1024 * 1024 // 2MB
	MaxTitleLength   = 300
)

// HTTP client configuration
const (
	UserAgent = "Mozilla/5.0 (compatible; marksync/1.0)"
)
