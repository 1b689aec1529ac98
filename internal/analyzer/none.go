package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/meetscribe/livelistener/internal/types"
)

// disabledAnalyzer runs when no LLM provider is configured. It extracts
// nothing but still renders a minimal closing summary from the
// transcript so the session protocol stays intact.
type disabledAnalyzer struct{}

// NewDisabled returns the provider used for LLM_PROVIDER=none.
func NewDisabled() Analyzer {
	return disabledAnalyzer{}
}

func (disabledAnalyzer) Extract(_ context.Context, req Request) (*Result, error) {
	res := &Result{}
	if !req.WantSummary {
		return res, nil
	}

	var b strings.Builder
	b.WriteString("# Meeting summary\n\n")
	if len(req.Tail) == 0 {
		b.WriteString("No speech was transcribed in this session.\n")
		res.SummaryMarkdown = b.String()
		return res, nil
	}

	last := req.Tail[len(req.Tail)-1]
	fmt.Fprintf(&b, "%d transcript segments over %.0f seconds.\n\n", len(req.Tail), last.T1)
	bySource := map[types.Source]int{}
	for _, seg := range req.Tail {
		bySource[seg.Source]++
	}
	for _, src := range []types.Source{types.SourceMic, types.SourceSystem, types.SourceNote, types.SourceOCR} {
		if n := bySource[src]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d segments\n", src, n)
		}
	}
	b.WriteString("\nInsight extraction was disabled for this session.\n")
	res.SummaryMarkdown = b.String()
	return res, nil
}
