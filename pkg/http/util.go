package http

import (
	"time"

	"ProxyTrader/pkg/util"
)

// ParseTime accepts RFC3339 (nano) and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) { return util.ParseTime(s) }
