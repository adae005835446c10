// Package render turns backend JSON payloads into MCP text content.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxPayload bounds the text handed back to an MCP client. Oversized
// payloads are cut at a rune boundary with a trailing notice, so a huge
// session transcript cannot flood the conversation.
const MaxPayload = 64 * 1024

// JSON pretty-prints a backend payload for an MCP text block.
// encoding/json preserves object key order from the source document, so
// output is stable for a stable backend.
func JSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "(no content)"
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// Not JSON after all; pass the body through as-is.
		return Truncate(string(raw))
	}
	return Truncate(buf.String())
}

// Truncate cuts s at MaxPayload bytes, on a rune boundary, appending a
// notice with the original size.
func Truncate(s string) string {
	if len(s) <= MaxPayload {
		return s
	}
	cut := MaxPayload
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n... (truncated, %d of %d bytes shown)", s[:cut], cut, len(s))
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Event formats one server-sent event as a labeled JSON block.
func Event(eventType string, data json.RawMessage) string {
	t := strings.TrimSpace(eventType)
	if t == "" {
		t = "message"
	}
	return "event: " + t + "\n" + JSON(data)
}
