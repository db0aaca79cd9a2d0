package ddc

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	displayIDPattern    = regexp.MustCompile(`Display\s+(\d+)`)
	displayModelPattern = regexp.MustCompile(`(?s)Display\s+(\d+).*?Monitor:\s*([^\r\n]+)`)
	measurePrefix       = regexp.MustCompile(`(?i)^Measure:\s*`)
)

// Display is one entry of a detect listing that carries a monitor label.
type Display struct {
	ID    MonitorID
	Model string
}

// ParseDisplayIDs extracts every "Display <n>" id from detect output, in order.
// Labels are not inspected, so entries reported as invalid are kept.
func ParseDisplayIDs(output string) []MonitorID {
	matches := displayIDPattern.FindAllStringSubmatch(output, -1)
	ids := make([]MonitorID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, MonitorID(m[1]))
	}
	return ids
}

// ParseDisplays extracts id and model pairs from detect output.
// Entries whose model label contains "invalid" (any case) are dropped;
// ddcutil reports stale buses that way.
func ParseDisplays(output string) []Display {
	matches := displayModelPattern.FindAllStringSubmatch(output, -1)
	displays := make([]Display, 0, len(matches))
	for _, m := range matches {
		model := strings.TrimSpace(m[2])
		model = measurePrefix.ReplaceAllString(model, "")
		model = strings.TrimSuffix(model, ":")

		if strings.Contains(strings.ToLower(model), "invalid") {
			continue
		}
		displays = append(displays, Display{ID: MonitorID(m[1]), Model: model})
	}
	return displays
}

// ParseBrightness extracts the current value from a `getvcp 10 --brief` reply,
// e.g. "VCP 10 C 50 100". The first "10" token must be followed by "C".
func ParseBrightness(output string) (int, bool) {
	parts := strings.Fields(output)
	idx := -1
	for i, p := range parts {
		if p == "10" {
			idx = i
			break
		}
	}
	if idx == -1 || idx+2 >= len(parts) || parts[idx+1] != "C" {
		return 0, false
	}

	value, err := strconv.Atoi(parts[idx+2])
	if err != nil {
		return 0, false
	}
	return value, true
}
