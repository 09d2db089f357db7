// Package query is the default document capability: it parses markup into a
// goquery document without running any scripts.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

// Parser implements crawler.DocumentParser.
type Parser struct{}

var _ crawler.DocumentParser = Parser{}

// New returns a Parser.
func New() Parser { return Parser{} }

// Parse builds a document from markup. With NormalizeWhitespace set, runs of
// whitespace in text nodes outside pre, textarea and script collapse to one
// space.
func (Parser) Parse(ctx context.Context, markup string, cfg crawler.DocumentConfig) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	if cfg.NormalizeWhitespace {
		collapse(root)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func collapse(n *html.Node) {
	if n.Type == html.ElementNode && preserves(n.Data) {
		return
	}
	if n.Type == html.TextNode {
		n.Data = squash(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collapse(c)
	}
}

func preserves(tag string) bool {
	switch tag {
	case "pre", "textarea", "script", "style":
		return true
	default:
		return false
	}
}

func squash(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return s
		}
		return " "
	}
	out := strings.Join(strings.Fields(s), " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	default:
		return false
	}
}
