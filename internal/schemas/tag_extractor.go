package schemas

import (
	"strings"

	"narrator-server/internal/models"
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// GetTagSegment scans a growing turn buffer for the first occurrence of
// <tagName ...> and returns its content together with a closed flag. It
// returns nil while no opening tag has streamed in yet. When the closing
// marker is still missing the content is the partial text after the opening
// tag; once Closed is reported true the content is final and re-scanning a
// longer buffer with the same prefix yields the identical result.
//
// Tag names are matched case-insensitively and attributes before '>' are
// allowed. Nested occurrences of the same tag are not supported; the turn
// document schema never nests its tags.
func GetTagSegment(buffer, tagName string) *models.TagSegment {
	lower := strings.ToLower(buffer)
	tag := strings.ToLower(tagName)
	open := "<" + tag

	// Find an opening tag whose name is not a prefix of a longer name.
	start := -1
	from := 0
	for {
		idx := strings.Index(lower[from:], open)
		if idx < 0 {
			return nil
		}
		idx += from
		next := idx + len(open)
		if next >= len(lower) {
			// Buffer ends right after the tag name; treat as an opening tag
			// whose '>' has not arrived yet.
			start = idx
			break
		}
		c := lower[next]
		if c == '>' || c == '/' || c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			start = idx
			break
		}
		from = idx + 1
	}

	gt := strings.IndexByte(lower[start:], '>')
	if gt < 0 {
		// Opening tag itself is still streaming; nothing to show yet.
		return &models.TagSegment{Content: "", Closed: false}
	}
	contentStart := start + gt + 1

	closeMarker := "</" + tag + ">"
	end := strings.Index(lower[contentStart:], closeMarker)
	if end < 0 {
		return &models.TagSegment{Content: buffer[contentStart:], Closed: false}
	}
	return &models.TagSegment{Content: buffer[contentStart : contentStart+end], Closed: true}
}

// StripCDATA removes <![CDATA[ ... ]]> wrappers from extracted tag content.
// The content may still be streaming, so stripping is best-effort: a
// partially received opening marker yields an empty string and a trailing
// partial close marker is dropped when the content was CDATA-wrapped.
// Stripping an already-stripped string is a no-op.
func StripCDATA(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}

	// The whole content so far is a partial opening marker.
	if len(trimmed) < len(cdataOpen) && strings.HasPrefix(cdataOpen, trimmed) {
		return ""
	}

	wrapped := strings.HasPrefix(trimmed, cdataOpen)
	out := strings.ReplaceAll(trimmed, cdataOpen, "")
	out = strings.ReplaceAll(out, cdataClose, "")

	if wrapped {
		// A trailing "]" or "]]" is the close marker mid-arrival, not text.
		out = strings.TrimSuffix(out, "]]")
		out = strings.TrimSuffix(out, "]")
	}
	return strings.TrimSpace(out)
}
