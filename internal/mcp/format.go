package mcp

import (
	"fmt"
	"strings"
)

// FormatSearchResults formats search hits as markdown.
func FormatSearchResults(out SemanticSearchOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", out.Query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", out.Query)
	fmt.Fprintf(&sb, "Found %d result%s\n\n", len(out.Results), plural(len(out.Results)))

	for i, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s [%d:%d] (score: %.3f)\n", i+1, r.FilePath, r.StartByte, r.EndByte, r.Score)
		if r.Symbol != "" {
			fmt.Fprintf(&sb, "**Symbol:** `%s`\n", r.Symbol)
		}
		sb.WriteString("\n")
		if r.Content == "" {
			sb.WriteString("_content changed since indexing_\n\n")
			continue
		}
		lang := r.Language
		if lang == "" {
			lang = "text"
		}
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", lang, r.Content)
	}
	return sb.String()
}

// FormatDuplicates formats duplicate clusters as markdown.
func FormatDuplicates(out FindDuplicatesOutput) string {
	if len(out.Clusters) == 0 {
		return "No duplicate clusters found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Duplicate Clusters\n\nFound %d cluster%s\n\n", len(out.Clusters), plural(len(out.Clusters)))
	for i, c := range out.Clusters {
		sampled := ""
		if c.MinSimilaritySampled {
			sampled = ", sampled"
		}
		fmt.Fprintf(&sb, "### %d. %d chunks (min similarity: %.3f%s)\n", i+1, c.Size, c.MinPairwiseSimilarity, sampled)
		for _, m := range c.Members {
			if m.SymbolName != "" {
				fmt.Fprintf(&sb, "- %s [%d:%d] `%s`\n", m.FilePath, m.StartByte, m.EndByte, m.SymbolName)
			} else {
				fmt.Fprintf(&sb, "- %s [%d:%d]\n", m.FilePath, m.StartByte, m.EndByte)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// clampTopK applies the default for zero and caps large values. Negative
// values pass through so the query layer rejects them.
func clampTopK(topK, defaultVal int) int {
	switch {
	case topK == 0:
		return defaultVal
	case topK > maxTopK:
		return maxTopK
	default:
		return topK
	}
}
