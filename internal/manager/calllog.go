package manager

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// CallLog writes one line per incoming call, before it is handled. Test
// harnesses read these lines to check which calls were made and with what
// arguments, so the format is stable:
//
//	GetAccounts {"serviceId": "x"}
//	Authenticate 1 "oauth1-service" false false {}
//	RequestAccess "password-service" {}
type CallLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewCallLog returns a CallLog writing to w. A nil w discards the log.
func NewCallLog(w io.Writer) *CallLog {
	if w == nil {
		w = io.Discard
	}
	return &CallLog{w: w}
}

// Record writes method and its arguments and flushes the writer.
func (c *CallLog) Record(method string, args ...any) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, a := range args {
		parts = append(parts, formatArg(a))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, strings.Join(parts, " "))
	switch w := c.w.(type) {
	case interface{ Flush() error }:
		_ = w.Flush()
	case interface{ Sync() error }:
		_ = w.Sync()
	}
}

func formatArg(a any) string {
	switch v := a.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case map[string]dbus.Variant:
		return formatVariantMap(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatVariantMap(m map[string]dbus.Variant) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, fmt.Sprintf("%q: %s", k, m[k].String()))
	}
	return "{" + strings.Join(entries, ", ") + "}"
}
