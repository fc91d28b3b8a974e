package schemas

import (
	"fmt"
	"strconv"
	"strings"

	"narrator-server/internal/models"

	"github.com/google/uuid"
)

// ParseTurnPayload extracts the finalized turn fields from a fully drained
// narration buffer. The buffer must contain a <turn> envelope and a
// non-empty <continuation>; the image prompt is optional.
func ParseTurnPayload(raw string) (*models.ParsedTurn, error) {
	envelope := GetTagSegment(raw, "turn")
	if envelope == nil {
		return nil, models.ErrMissingTurnBlock
	}

	continuation := extractClean(envelope.Content, "continuation")
	if continuation == "" {
		return nil, models.ErrMissingContinuation
	}

	return &models.ParsedTurn{
		Continuation: continuation,
		ImagePrompt:  extractClean(envelope.Content, "image_prompt"),
	}, nil
}

// ParseRequests scans the buffer for a <requests> block and returns the
// structured player prompts it contains. Malformed elements, unknown types
// and target references that do not resolve to a player in the roster are
// dropped silently; a bad request never fails the turn.
func ParseRequests(raw string, players []models.Player) []models.Request {
	block := GetTagSegment(raw, "requests")
	if block == nil {
		return nil
	}

	var requests []models.Request
	for _, element := range splitElements(block.Content, "request") {
		req, err := parseRequestElement(element, players)
		if err != nil {
			continue
		}
		requests = append(requests, *req)
	}
	return requests
}

// requestElement is one raw <request ...>...</request> occurrence.
type requestElement struct {
	attrs string
	body  string
}

// splitElements collects every <name ...>...</name> occurrence in order.
// GetTagSegment only finds the first one, so repeated elements need their
// own scan.
func splitElements(content, name string) []requestElement {
	lower := strings.ToLower(content)
	open := "<" + name
	closeMarker := "</" + name + ">"

	var out []requestElement
	from := 0
	for {
		idx := strings.Index(lower[from:], open)
		if idx < 0 {
			return out
		}
		idx += from
		gt := strings.IndexByte(lower[idx:], '>')
		if gt < 0 {
			return out
		}
		bodyStart := idx + gt + 1
		end := strings.Index(lower[bodyStart:], closeMarker)
		if end < 0 {
			return out
		}
		out = append(out, requestElement{
			attrs: content[idx+len(open) : idx+gt],
			body:  content[bodyStart : bodyStart+end],
		})
		from = bodyStart + end + len(closeMarker)
	}
}

// parseRequestElement builds one Request from a raw element. An error means
// the element is dropped.
func parseRequestElement(el requestElement, players []models.Player) (*models.Request, error) {
	reqType := models.RequestType(strings.ToLower(attrValue(el.attrs, "type")))
	question := extractClean(el.body, "question")
	if question == "" {
		return nil, fmt.Errorf("request has no question")
	}

	req := &models.Request{
		ID:       uuid.New(),
		Type:     reqType,
		Question: question,
	}

	switch reqType {
	case models.RequestTypeMultipleChoice:
		for _, choice := range splitElements(el.body, "choice") {
			if text := strings.TrimSpace(StripCDATA(choice.body)); text != "" {
				req.Choices = append(req.Choices, text)
			}
		}
		if len(req.Choices) < 2 {
			return nil, fmt.Errorf("multiple_choice request needs at least 2 choices")
		}
		for _, p := range players {
			req.TargetPlayerIDs = append(req.TargetPlayerIDs, p.ID)
		}

	case models.RequestTypeFreeText, models.RequestTypeYesNo, models.RequestTypeDiceRoll:
		idx, err := resolveTargetIndex(attrValue(el.attrs, "target_player"), len(players))
		if err != nil {
			return nil, err
		}
		req.TargetPlayerIDs = []uuid.UUID{players[idx].ID}

	default:
		return nil, fmt.Errorf("unknown request type %q", reqType)
	}

	if len(req.TargetPlayerIDs) == 0 {
		return nil, fmt.Errorf("request resolved to no recipients")
	}
	return req, nil
}

// resolveTargetIndex turns a positional reference like "player2" into a
// zero-based roster index, validating bounds against the roster size.
func resolveTargetIndex(ref string, rosterSize int) (int, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if !strings.HasPrefix(ref, "player") {
		return 0, fmt.Errorf("malformed target_player %q", ref)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "player"))
	if err != nil {
		return 0, fmt.Errorf("malformed target_player %q: %w", ref, err)
	}
	if n < 1 || n > rosterSize {
		return 0, fmt.Errorf("target_player %q out of range for %d players", ref, rosterSize)
	}
	return n - 1, nil
}

// attrValue extracts a quoted attribute value from an opening tag's
// attribute list. Returns "" when absent.
func attrValue(attrs, name string) string {
	lower := strings.ToLower(attrs)
	idx := strings.Index(lower, name+"=")
	if idx < 0 {
		return ""
	}
	rest := attrs[idx+len(name)+1:]
	if rest == "" {
		return ""
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}

// extractClean pulls one tag's content, strips CDATA and trims whitespace.
func extractClean(raw, tagName string) string {
	seg := GetTagSegment(raw, tagName)
	if seg == nil {
		return ""
	}
	return strings.TrimSpace(StripCDATA(seg.Content))
}
