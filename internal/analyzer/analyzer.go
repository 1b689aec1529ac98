// Package analyzer extracts entities, action/decision/risk cards and
// summaries from transcript tails through an LLM provider. The provider
// is an external collaborator; the scheduler deduplicates its output.
package analyzer

import (
	"context"

	"github.com/meetscribe/livelistener/internal/types"
)

// Request carries one tail to the analyzer. Context is the previously
// finalized window preceding the tail; Prior lets providers return
// deltas instead of restating earlier insights.
type Request struct {
	Tail         []types.TranscriptSegment
	Context      []types.TranscriptSegment
	WantEntities bool
	WantCards    bool
	WantSummary  bool
	Prior        *Result
}

// Result is what one extraction pass produced. Providers are not
// required to be idempotent.
type Result struct {
	Entities        types.Entities
	Cards           types.Cards
	SummaryMarkdown string
}

// Analyzer is the extraction contract. Implementations must be safe
// for concurrent use across sessions.
type Analyzer interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}
