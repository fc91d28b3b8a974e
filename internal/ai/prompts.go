package ai

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"narrator-server/internal/models"
)

const (
	systemTemplateName = "system.tmpl"
	turnTemplateName   = "turn.tmpl"
)

// defaultSystemTemplate is used when the prompts directory carries no
// system.tmpl override. It instructs the model to answer with the tagged
// turn document the extractor understands.
const defaultSystemTemplate = `You are the narrator of a party adventure game played by {{len .Players}} friends in one room: {{joinNames .Players}}.

Each of your replies must be a single XML-like document:

<turn>
  <continuation><![CDATA[The next story beat, 2-4 paragraphs, spoken aloud by the narrator. Use [bracketed] stage directions sparingly.]]></continuation>
  <image_prompt><![CDATA[A vivid one-sentence illustration prompt for the current scene.]]></image_prompt>
  <requests>
    <request type="multiple_choice">
      <question>What does the group do?</question>
      <choice>First option</choice>
      <choice>Second option</choice>
    </request>
    <request type="free_text" target_player="player1">
      <question>Describe your move.</question>
    </request>
  </requests>
</turn>

Rules:
- continuation is mandatory; everything else is optional.
- request types: multiple_choice (everyone votes), free_text, yes_no, dice_roll (target_player is "playerN", 1-based seat order).
- Every request element needs a closing </request> tag.
- Address players by name inside the story, never by seat number.
- Weave every collected answer from the previous turn into the story.`

// defaultTurnTemplate renders the per-turn user input from game history.
const defaultTurnTemplate = `Premise: {{.Premise}}

{{- if .History}}

Story so far:
{{- range .History}}

Turn {{.Number}}:
{{.Narration}}
{{- range .Responses}}
- {{.Player}} answered "{{.Question}}": {{.Answer}}
{{- end}}
{{- end}}
{{- end}}

Write turn {{.TurnNumber}}.`

type historyResponse struct {
	Player   string
	Question string
	Answer   string
}

type historyEntry struct {
	Number    int
	Narration string
	Responses []historyResponse
}

type turnPromptData struct {
	Premise    string
	Players    []string
	TurnNumber int
	History    []historyEntry
}

// PromptProvider renders the narrator system prompt and per-turn input.
// Templates are loaded once from the prompts directory; files that are
// absent fall back to the built-in defaults.
type PromptProvider struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	logger    *zap.Logger
}

// NewPromptProvider loads prompt templates from dir.
func NewPromptProvider(dir string, logger *zap.Logger) (*PromptProvider, error) {
	p := &PromptProvider{
		templates: make(map[string]*template.Template),
		logger:    logger.Named("PromptProvider"),
	}

	funcs := template.FuncMap{
		"joinNames": func(names []string) string { return strings.Join(names, ", ") },
	}

	defaults := map[string]string{
		systemTemplateName: defaultSystemTemplate,
		turnTemplateName:   defaultTurnTemplate,
	}

	for name, fallback := range defaults {
		text := fallback
		path := filepath.Join(dir, name)
		if raw, err := os.ReadFile(path); err == nil {
			text = string(raw)
			p.logger.Info("Loaded prompt template override", zap.String("path", path))
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}

	return p, nil
}

// BuildTurnPrompt renders the system prompt and user input for the next
// turn of the given game.
func (p *PromptProvider) BuildTurnPrompt(game *models.Game) (systemPrompt, userInput string, err error) {
	data := turnPromptData{
		Premise:    game.Premise,
		TurnNumber: game.TurnNumber(),
	}
	for _, pl := range game.Players {
		data.Players = append(data.Players, pl.Name)
	}

	playerNames := make(map[uuid.UUID]string, len(game.Players))
	for _, pl := range game.Players {
		playerNames[pl.ID] = pl.Name
	}

	for _, turn := range game.Turns {
		entry := historyEntry{
			Number:    turn.Number,
			Narration: turn.Continuation,
		}
		questions := make(map[uuid.UUID]string, len(turn.Requests))
		for _, req := range turn.Requests {
			questions[req.ID] = req.Question
		}
		for _, resp := range turn.Responses {
			answer := "(no answer)"
			if resp.Response != nil {
				answer = *resp.Response
			}
			entry.Responses = append(entry.Responses, historyResponse{
				Player:   playerNames[resp.PlayerID],
				Question: questions[resp.RequestID],
				Answer:   answer,
			})
		}
		data.History = append(data.History, entry)
	}

	systemPrompt, err = p.render(systemTemplateName, data)
	if err != nil {
		return "", "", err
	}
	userInput, err = p.render(turnTemplateName, data)
	if err != nil {
		return "", "", err
	}
	return systemPrompt, userInput, nil
}

func (p *PromptProvider) render(name string, data turnPromptData) (string, error) {
	p.mu.RLock()
	tmpl := p.templates[name]
	p.mu.RUnlock()
	if tmpl == nil {
		return "", fmt.Errorf("prompt template %s not loaded", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", name, err)
	}
	return sb.String(), nil
}
