package joku

import (
	"fmt"
	"strings"
)

// codeBlock wraps content in a Discord code fence.
func codeBlock(content string) string {
	return "```\n" + content + "\n```"
}

// chunkMessage splits content into chunks no longer than limit,
// preferring line boundaries. Code fences are closed and reopened
// around chunk breaks so each chunk renders on its own.
func chunkMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	fenced := strings.HasPrefix(content, "```")
	if fenced {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimRight(content, "\n"), "```")
		content = strings.Trim(content, "\n")
		// Leave room for the fences re-added per chunk.
		limit -= len("```\n") + len("\n```")
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(content, "\n") {
		// A single line longer than the limit gets hard-split.
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line)+1 > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if fenced {
		for i, chunk := range chunks {
			chunks[i] = codeBlock(chunk)
		}
	}
	return chunks
}

// formatTable renders rows as an aligned monospace table with a header
// separator, for display inside a code block.
func formatTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(fmt.Sprintf("%-*s", widths[i], cell))
		}
		sb.WriteByte('\n')
	}
	writeRow(headers)
	for i, w := range widths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteByte('\n')
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(sb.String(), "\n")
}
