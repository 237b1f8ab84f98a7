package pipelinecontext

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/template"
)

// SummaryTemplateOverhead bounds the characters the summary template adds on
// top of MaxLength.
const SummaryTemplateOverhead = 96

// SummaryOptions controls GetSummary.
type SummaryOptions struct {
	MaxLength        int
	Format           models.ContextFormat
	FocusNodes       []string
	IncludeArtifacts bool
}

var summaryHeaders = map[models.ContextFormat]string{
	models.ContextFormatNarrative:  "Earlier steps of this pipeline produced:\n",
	models.ContextFormatStructured: "Context entries:\n",
	models.ContextFormatCompact:    "ctx: ",
}

// GetSummary renders the context of an execution as text. The body never
// exceeds MaxLength characters: entries of focus nodes come first, then the
// rest most recent first, and selection stops at the first entry that does
// not fit. It returns "" when nothing fits or nothing is stored.
func (s *Store) GetSummary(ctx context.Context, executionID string, opts SummaryOptions) (string, error) {
	entries, err := s.GetEntries(ctx, executionID)
	if err != nil {
		return "", err
	}

	var artifacts []*models.ContextArtifact
	if opts.IncludeArtifacts {
		if artifacts, err = s.GetArtifacts(ctx, executionID); err != nil {
			return "", err
		}
	}

	format := opts.Format
	if _, ok := summaryHeaders[format]; !ok {
		format = models.ContextFormatNarrative
	}

	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = models.DefaultMaxContextLength
	}

	blocks := make([]string, 0, len(entries)+len(artifacts))
	for _, entry := range orderForSummary(entries, opts.FocusNodes) {
		blocks = append(blocks, renderEntry(entry, format))
	}

	for i := len(artifacts) - 1; i >= 0; i-- {
		blocks = append(blocks, renderArtifact(artifacts[i], format))
	}

	var (
		body     strings.Builder
		used     int
		included int
	)

	for _, block := range blocks {
		size := utf8.RuneCountInString(block)
		if used+size > maxLength {
			break
		}

		body.WriteString(block)

		used += size
		included++
	}

	if included == 0 {
		return "", nil
	}

	summary := summaryHeaders[format] + strings.TrimRight(body.String(), "\n ;")
	if omitted := len(blocks) - included; omitted > 0 {
		summary += fmt.Sprintf("\n(%d more omitted)", omitted)
	}

	return summary, nil
}

// TrySummary is GetSummary for best-effort callers: failures are logged and
// reported through degraded instead of an error.
func (s *Store) TrySummary(ctx context.Context, executionID string, opts SummaryOptions) (string, bool) {
	summary, err := s.GetSummary(ctx, executionID, opts)
	if err != nil {
		s.logger.WarnContext(ctx, "Proceeding without pipeline context",
			"execution_id", executionID,
			"error", err)

		return "", true
	}

	return summary, false
}

func orderForSummary(entries []*models.ContextEntry, focusNodes []string) []*models.ContextEntry {
	if len(focusNodes) == 0 {
		return entries
	}

	ordered := make([]*models.ContextEntry, 0, len(entries))
	rest := make([]*models.ContextEntry, 0, len(entries))

	for _, entry := range entries {
		if slices.Contains(focusNodes, entry.ProducingNodeID) {
			ordered = append(ordered, entry)
		} else {
			rest = append(rest, entry)
		}
	}

	return append(ordered, rest...)
}

func entryText(entry *models.ContextEntry) string {
	if entry.Summary != "" {
		return entry.Summary
	}

	return template.Format(entry.Value)
}

func renderEntry(entry *models.ContextEntry, format models.ContextFormat) string {
	switch format {
	case models.ContextFormatStructured:
		return fmt.Sprintf("- key: %s\n  node: %s\n  type: %s\n  value: %s\n",
			entry.Key, entry.ProducingNodeID, entry.NodeType, entryText(entry))
	case models.ContextFormatCompact:
		return entry.Key + "=" + entryText(entry) + "; "
	default:
		return fmt.Sprintf("- %s (%s) stored %s: %s\n",
			entry.ProducingNodeID, entry.NodeType, entry.Key, entryText(entry))
	}
}

func renderArtifact(artifact *models.ContextArtifact, format models.ContextFormat) string {
	switch format {
	case models.ContextFormatStructured:
		return fmt.Sprintf("- artifact: %s\n  type: %s\n  content: %s\n", artifact.ID, artifact.Type, artifact.Content)
	case models.ContextFormatCompact:
		return "artifact:" + artifact.Type + "=" + artifact.Content + "; "
	default:
		return fmt.Sprintf("- artifact %s (%s): %s\n", artifact.ID, artifact.Type, artifact.Content)
	}
}
