package logging

import "strconv"

// MaxLogFieldLength bounds free-form string fields (remote command output,
// provider error bodies) before they are attached to a log entry.
const MaxLogFieldLength = 1024

// Truncate shortens s to MaxLogFieldLength, appending "..." when cut.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n characters, appending "..." when cut.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateSlice caps a slice at maxItems, replacing the tail with a
// "... and N more" marker so the entry stays scannable.
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	if maxItems < 1 {
		maxItems = 1
	}
	out := make([]string, 0, maxItems+1)
	out = append(out, items[:maxItems-1]...)
	out = append(out, items[maxItems-1], "... and "+itoa(len(items)-maxItems)+" more")
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
