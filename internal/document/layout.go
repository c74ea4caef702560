// Package document holds the document collaborators of the pipeline: layout
// labelling, anonymization and TipTap reconstruction. PDF engines live in
// the fitzpdf and plainpdf subpackages.
package document

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

var (
	listItemRe   = regexp.MustCompile(`^(-|•|\*|\d+[.)])\s+`)
	bulletRe     = regexp.MustCompile(`^(-|•|\*)\s+`)
	sectionNumRe = regexp.MustCompile(`^(\d+\.\d+(\.\d+)*|[IVX]+\.)\s+\S`)
	pageNumberRe = regexp.MustCompile(`(?i)^(page\s*)?\d+(\s*(/|of)\s*\d+)?$`)
	markerRe     = regexp.MustCompile(`\[(BLOCK_\d{4})\]`)
)

const (
	maxTitleRunes   = 100
	maxSectionRunes = 80
)

// BlockID formats the marker id of the n-th block (1-based).
func BlockID(n int) string {
	return fmt.Sprintf("BLOCK_%04d", n)
}

// BuildExtraction turns per-page plain text into labelled blocks and the
// marker text sent for translation: "[BLOCK_0001] text [BLOCK_0002] text".
func BuildExtraction(pages []string) *domain.Extraction {
	headers := repeatedFirstLines(pages)

	ext := &domain.Extraction{Pages: len(pages)}
	var parts []string
	counter := 1

	for pageIdx, page := range pages {
		paragraphs := SplitParagraphs(page)
		for i, text := range paragraphs {
			pos := position{
				page:  pageIdx + 1,
				index: i,
				last:  i == len(paragraphs)-1,
			}
			label := classify(text, pos, headers)

			block := domain.Block{
				ID:    BlockID(counter),
				Label: label,
				Text:  text,
				Page:  pageIdx + 1,
			}
			counter++

			ext.Blocks = append(ext.Blocks, block)
			parts = append(parts, "["+block.ID+"] "+text)
		}
	}

	ext.Text = strings.Join(parts, " ")
	return ext
}

// SplitParagraphs splits page text on blank lines. Lines inside a paragraph
// are joined with a space, except list items which start their own block.
func SplitParagraphs(page string) []string {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, " "))
		current = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			flush()
			continue
		}
		if listItemRe.MatchString(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return out
}

type position struct {
	page  int
	index int
	last  bool
}

func classify(text string, pos position, headers map[string]bool) domain.BlockLabel {
	n := utf8.RuneCountInString(text)

	switch {
	case pos.index == 0 && headers[text]:
		return domain.LabelPageHeader
	case pos.last && pageNumberRe.MatchString(text):
		return domain.LabelPageFooter
	case listItemRe.MatchString(text):
		return domain.LabelListItem
	case pos.page == 1 && pos.index == 0 && n <= maxTitleRunes && !endsSentence(text):
		return domain.LabelTitle
	case n <= maxSectionRunes && !endsSentence(text) && (sectionNumRe.MatchString(text) || isUpper(text)):
		return domain.LabelSectionHeader
	default:
		return domain.LabelParagraph
	}
}

// repeatedFirstLines finds first paragraphs shared by two or more pages.
func repeatedFirstLines(pages []string) map[string]bool {
	counts := map[string]int{}
	for _, page := range pages {
		if paras := SplitParagraphs(page); len(paras) > 1 {
			counts[paras[0]]++
		}
	}
	out := map[string]bool{}
	for text, c := range counts {
		if c >= 2 {
			out[text] = true
		}
	}
	return out
}

func endsSentence(text string) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	return r == '.' || r == ',' || r == ';' || r == ':'
}

func isUpper(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}
