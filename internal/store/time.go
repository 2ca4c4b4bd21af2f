package store

import "time"

// unixNow is the default clock for log record timestamps and snapshot/log
// file names. The Store reads the clock through its nowFunc field, so the
// clock can be replaced within the package.
func unixNow() int64 {
	return time.Now().Unix()
}
