package runner

import (
	"strings"

	"github.com/goccy/go-json"
)

// usageEvent is the structured line a repair engine may emit on stdout to
// report its token consumption, e.g.
//
//	{"type":"usage","input_tokens":1200,"output_tokens":340,"cost":0.0021}
//
// Multiple events accumulate.
type usageEvent struct {
	Type         string  `json:"type"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// parseUsageLine decodes a single output line as a usage event. Non-JSON
// lines and JSON lines of other event types are ignored.
func parseUsageLine(line string) (usageEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return usageEvent{}, false
	}
	var ev usageEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return usageEvent{}, false
	}
	if ev.Type != "usage" {
		return usageEvent{}, false
	}
	return ev, true
}
