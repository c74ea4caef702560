package document

import (
	"sort"
	"strings"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

// FooterClass is the CSS class set on page-footer paragraphs.
const FooterClass = "text-sm text-gray-500 text-center border-t border-gray-300 pt-2 mt-4"

type handler func(doc *domain.Node, text string)

// TipTapReconstructor maps translated blocks back to a TipTap document.
type TipTapReconstructor struct {
	handlers map[domain.BlockLabel]handler
	fallback handler
}

// NewTipTapReconstructor creates a reconstructor with the default label table.
func NewTipTapReconstructor() *TipTapReconstructor {
	return &TipTapReconstructor{
		handlers: map[domain.BlockLabel]handler{
			domain.LabelTitle:         heading(1),
			domain.LabelSectionHeader: heading(2),
			domain.LabelPageHeader:    heading(3),
			domain.LabelListItem:      listItem,
			domain.LabelPageFooter:    footer,
			domain.LabelPicture:       func(*domain.Node, string) {},
			domain.LabelParagraph:     paragraph,
		},
		fallback: paragraph,
	}
}

// Reconstruct implements domain.Reconstructor. Tokens are restored first,
// then text is assigned to blocks by marker. A block whose marker is missing
// from the translation keeps its original text.
func (r *TipTapReconstructor) Reconstruct(translated string, tokens domain.TokenMap, blocks []domain.Block) (*domain.Node, error) {
	translated = RestoreTokens(translated, tokens)
	doc := &domain.Node{Type: "doc"}

	if len(blocks) == 0 {
		for _, line := range strings.Split(translated, "\n") {
			if line = strings.TrimSpace(markerRe.ReplaceAllString(line, "")); line != "" {
				paragraph(doc, line)
			}
		}
		return finish(doc), nil
	}

	texts := SplitByMarkers(translated)
	for _, b := range blocks {
		text, ok := texts[b.ID]
		if !ok || text == "" {
			text = b.Text
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		h, ok := r.handlers[b.Label]
		if !ok {
			h = r.fallback
		}
		h(doc, text)
	}

	return finish(doc), nil
}

// RestoreTokens replaces every placeholder with its original value.
func RestoreTokens(text string, tokens domain.TokenMap) string {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	// longest first so <TOKEN_12> is never touched by <TOKEN_1>
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, k := range keys {
		text = strings.ReplaceAll(text, k, tokens[k])
	}
	return text
}

// SplitByMarkers maps each [BLOCK_xxxx] marker to the text following it.
func SplitByMarkers(text string) map[string]string {
	out := map[string]string{}
	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		id := text[loc[2]:loc[3]]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := strings.Join(strings.Fields(text[loc[1]:end]), " ")
		if segment != "" {
			out[id] = segment
		}
	}
	return out
}

func finish(doc *domain.Node) *domain.Node {
	if len(doc.Content) == 0 {
		doc.Content = []domain.Node{{Type: "paragraph"}}
	}
	return doc
}

func textNode(text string) []domain.Node {
	return []domain.Node{{Type: "text", Text: text}}
}

func heading(level int) handler {
	return func(doc *domain.Node, text string) {
		doc.Content = append(doc.Content, domain.Node{
			Type:    "heading",
			Attrs:   map[string]any{"level": level},
			Content: textNode(text),
		})
	}
}

func paragraph(doc *domain.Node, text string) {
	doc.Content = append(doc.Content, domain.Node{Type: "paragraph", Content: textNode(text)})
}

func footer(doc *domain.Node, text string) {
	doc.Content = append(doc.Content, domain.Node{
		Type:    "paragraph",
		Attrs:   map[string]any{"class": FooterClass},
		Content: textNode(text),
	})
}

// listItem appends to the preceding list of the same kind or starts a new one.
func listItem(doc *domain.Node, text string) {
	kind := "orderedList"
	if bulletRe.MatchString(text) {
		kind = "bulletList"
	}
	body := strings.TrimSpace(listItemRe.ReplaceAllString(text, ""))
	if body == "" {
		body = text
	}
	item := domain.Node{
		Type:    "listItem",
		Content: []domain.Node{{Type: "paragraph", Content: textNode(body)}},
	}

	if n := len(doc.Content); n > 0 && doc.Content[n-1].Type == kind {
		doc.Content[n-1].Content = append(doc.Content[n-1].Content, item)
		return
	}
	doc.Content = append(doc.Content, domain.Node{Type: kind, Content: []domain.Node{item}})
}
