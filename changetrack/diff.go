package changetrack

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/use-agent/skim/models"
)

const contextLines = 3

// splitLines breaks s into newline-terminated lines. A missing final
// newline is added so an appended line is not seen as an edit.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(strings.TrimSuffix(s, "\n"), "\n")
	lines[len(lines)-1] += "\n"
	return lines
}

// unifiedDiff renders previous→current as a unified diff. It returns the
// text and its structured form; both are empty when the texts are equal.
func unifiedDiff(previous, current string) (string, *models.DiffJSON) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(previous),
		B:        splitLines(current),
		FromFile: "previous",
		ToFile:   "current",
		Context:  contextLines,
	})
	if err != nil || text == "" {
		return "", nil
	}
	return text, structure(text)
}

// structure splits rendered diff text into chunks keyed by their @@ header.
func structure(text string) *models.DiffJSON {
	file := models.DiffFile{From: "previous", To: "current"}
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			file.Chunks = append(file.Chunks, models.DiffChunk{Content: line})
		// File headers precede the first chunk.
		case len(file.Chunks) > 0:
			c := &file.Chunks[len(file.Chunks)-1]
			c.Changes = append(c.Changes, models.DiffChange{Type: changeType(line), Content: line})
		}
	}
	return &models.DiffJSON{Files: []models.DiffFile{file}}
}

func changeType(line string) string {
	switch {
	case strings.HasPrefix(line, "+"):
		return "add"
	case strings.HasPrefix(line, "-"):
		return "del"
	default:
		return "normal"
	}
}
