package translate

import (
	"strings"
	"unicode/utf8"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

// DefaultMaxChars is the default chunk size in characters.
const DefaultMaxChars = 1000

// Split wraps text greedily on word boundaries into chunks of at most
// maxChars characters. Words are never broken; a word longer than maxChars
// becomes a chunk on its own. Runs of whitespace collapse to a single space.
func Split(text string, maxChars int) []domain.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var (
		chunks  []domain.Chunk
		current strings.Builder
		length  int
	)

	flush := func() {
		if length == 0 {
			return
		}
		chunks = append(chunks, domain.Chunk{Index: len(chunks), Text: current.String()})
		current.Reset()
		length = 0
	}

	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)

		if length > 0 && length+1+n > maxChars {
			flush()
		}
		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(word)
		length += n
	}
	flush()

	return chunks
}
