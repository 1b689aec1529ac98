package types

// Entity is a named mention extracted from the transcript tail.
type Entity struct {
	Kind          string   `json:"kind"` // person | org | topic
	Text          string   `json:"text"`
	EvidenceQuote string   `json:"evidence_quote"`
	Confidence    float64  `json:"confidence"`
	Speakers      []Source `json:"speakers"`
	T0            float64  `json:"t0"`
	T1            float64  `json:"t1"`
}

// CardKind distinguishes the card unions the analyzer can produce.
type CardKind string

const (
	CardAction   CardKind = "action"
	CardDecision CardKind = "decision"
	CardRisk     CardKind = "risk"
)

// Card is an action, decision or risk surfaced from the conversation.
type Card struct {
	Kind          CardKind `json:"kind"`
	Text          string   `json:"text"`
	Owner         string   `json:"owner,omitempty"`
	EvidenceQuote string   `json:"evidence_quote"`
	Confidence    float64  `json:"confidence"`
	Speakers      []Source `json:"speakers"`
	T0            float64  `json:"t0"`
	T1            float64  `json:"t1"`
}

// Entities groups extracted entities by kind for the wire.
type Entities struct {
	People []Entity `json:"people"`
	Orgs   []Entity `json:"orgs"`
	Topics []Entity `json:"topics"`
}

// Cards groups extracted cards by kind for the wire.
type Cards struct {
	Actions   []Card `json:"actions"`
	Decisions []Card `json:"decisions"`
	Risks     []Card `json:"risks"`
}

// Summary is the closing artifact of a session.
type Summary struct {
	Markdown string `json:"markdown"`
	Cards    Cards  `json:"json"`
}

// Overlaps reports whether two time ranges intersect.
func Overlaps(a0, a1, b0, b1 float64) bool {
	return a0 <= b1 && b0 <= a1
}
