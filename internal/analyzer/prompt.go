package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetscribe/livelistener/internal/types"
)

const systemPrompt = `You are a meeting analyst. You read transcript excerpts and extract
structured insights. Respond with a single JSON object and nothing else:
{
  "people":   [{"text": "...", "evidence_quote": "...", "confidence": 0.0}],
  "orgs":     [{"text": "...", "evidence_quote": "...", "confidence": 0.0}],
  "topics":   [{"text": "...", "evidence_quote": "...", "confidence": 0.0}],
  "actions":  [{"text": "...", "owner": "...", "evidence_quote": "...", "confidence": 0.0}],
  "decisions":[{"text": "...", "evidence_quote": "...", "confidence": 0.0}],
  "risks":    [{"text": "...", "evidence_quote": "...", "confidence": 0.0}],
  "summary":  "markdown summary or empty string"
}
Every evidence_quote must be copied verbatim from the transcript.
Omit categories you were not asked for by leaving them empty.`

// buildUserPrompt renders the tail plus context window as timestamped
// transcript lines and states which insight kinds are wanted.
func buildUserPrompt(req Request) string {
	var b strings.Builder

	if len(req.Context) > 0 {
		b.WriteString("Earlier context (do not extract from it):\n")
		for _, seg := range req.Context {
			writeLine(&b, seg)
		}
		b.WriteString("\n")
	}

	b.WriteString("New transcript:\n")
	for _, seg := range req.Tail {
		writeLine(&b, seg)
	}

	wanted := make([]string, 0, 3)
	if req.WantEntities {
		wanted = append(wanted, "people/orgs/topics")
	}
	if req.WantCards {
		wanted = append(wanted, "actions/decisions/risks")
	}
	if req.WantSummary {
		wanted = append(wanted, "summary")
	}
	fmt.Fprintf(&b, "\nExtract: %s.\n", strings.Join(wanted, ", "))

	if req.Prior != nil {
		prior := priorMentions(req.Prior)
		if len(prior) > 0 {
			fmt.Fprintf(&b, "Already reported, do not repeat: %s.\n", strings.Join(prior, "; "))
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, seg types.TranscriptSegment) {
	fmt.Fprintf(b, "[%.1f-%.1f] %s: %s\n", seg.T0, seg.T1, seg.Source, seg.Text)
}

func priorMentions(prior *Result) []string {
	var out []string
	for _, e := range prior.Entities.People {
		out = append(out, e.Text)
	}
	for _, e := range prior.Entities.Orgs {
		out = append(out, e.Text)
	}
	for _, c := range prior.Cards.Actions {
		out = append(out, c.Text)
	}
	for _, c := range prior.Cards.Decisions {
		out = append(out, c.Text)
	}
	for _, c := range prior.Cards.Risks {
		out = append(out, c.Text)
	}
	return out
}

// llmInsight / llmPayload mirror the JSON shape the prompt demands.
type llmInsight struct {
	Text          string  `json:"text"`
	Owner         string  `json:"owner,omitempty"`
	EvidenceQuote string  `json:"evidence_quote"`
	Confidence    float64 `json:"confidence"`
}

type llmPayload struct {
	People    []llmInsight `json:"people"`
	Orgs      []llmInsight `json:"orgs"`
	Topics    []llmInsight `json:"topics"`
	Actions   []llmInsight `json:"actions"`
	Decisions []llmInsight `json:"decisions"`
	Risks     []llmInsight `json:"risks"`
	Summary   string       `json:"summary"`
}

// parseResponse turns raw model output into a Result. Malformed JSON or
// insights whose evidence quote is not in the tail are skipped, not
// escalated: JSON-level garbage costs the whole pass only when no
// object can be found at all.
func parseResponse(raw string, req Request) (*Result, error) {
	obj := extractJSONObject(raw)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in analyzer response")
	}

	var payload llmPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("analyzer response is not valid JSON: %w", err)
	}

	res := &Result{SummaryMarkdown: strings.TrimSpace(payload.Summary)}
	res.Entities.People = groundEntities("person", payload.People, req.Tail)
	res.Entities.Orgs = groundEntities("org", payload.Orgs, req.Tail)
	res.Entities.Topics = groundEntities("topic", payload.Topics, req.Tail)
	res.Cards.Actions = groundCards(types.CardAction, payload.Actions, req.Tail)
	res.Cards.Decisions = groundCards(types.CardDecision, payload.Decisions, req.Tail)
	res.Cards.Risks = groundCards(types.CardRisk, payload.Risks, req.Tail)
	return res, nil
}

// groundEntities keeps insights whose evidence quote appears verbatim
// in a tail segment and stamps speakers plus time range from it.
func groundEntities(kind string, in []llmInsight, tail []types.TranscriptSegment) []types.Entity {
	var out []types.Entity
	for _, ins := range in {
		seg, ok := locateQuote(ins.EvidenceQuote, tail)
		if !ok || strings.TrimSpace(ins.Text) == "" {
			continue
		}
		out = append(out, types.Entity{
			Kind:          kind,
			Text:          strings.TrimSpace(ins.Text),
			EvidenceQuote: ins.EvidenceQuote,
			Confidence:    clampConfidence(ins.Confidence),
			Speakers:      []types.Source{seg.Source},
			T0:            seg.T0,
			T1:            seg.T1,
		})
	}
	return out
}

func groundCards(kind types.CardKind, in []llmInsight, tail []types.TranscriptSegment) []types.Card {
	var out []types.Card
	for _, ins := range in {
		seg, ok := locateQuote(ins.EvidenceQuote, tail)
		if !ok || strings.TrimSpace(ins.Text) == "" {
			continue
		}
		out = append(out, types.Card{
			Kind:          kind,
			Text:          strings.TrimSpace(ins.Text),
			Owner:         strings.TrimSpace(ins.Owner),
			EvidenceQuote: ins.EvidenceQuote,
			Confidence:    clampConfidence(ins.Confidence),
			Speakers:      []types.Source{seg.Source},
			T0:            seg.T0,
			T1:            seg.T1,
		})
	}
	return out
}

func locateQuote(quote string, tail []types.TranscriptSegment) (types.TranscriptSegment, bool) {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return types.TranscriptSegment{}, false
	}
	for _, seg := range tail {
		if strings.Contains(seg.Text, quote) {
			return seg, true
		}
	}
	return types.TranscriptSegment{}, false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// extractJSONObject trims code fences and chatter around the outermost
// JSON object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
