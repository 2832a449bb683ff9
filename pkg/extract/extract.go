// Package extract turns uploaded files into plain text and splits the text
// into overlapping chunks for embedding.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Text extracts plain text from raw file bytes according to content type.
// Unknown content types are treated as plain text.
func Text(contentType, name string, data []byte) (string, error) {
	switch {
	case isPDF(contentType, name):
		return pdfText(data)
	case isHTML(contentType, name):
		return htmlText(data)
	default:
		return string(data), nil
	}
}

func isPDF(contentType, name string) bool {
	return strings.Contains(contentType, "pdf") || strings.HasSuffix(strings.ToLower(name), ".pdf")
}

func isHTML(contentType, name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(contentType, "html") ||
		strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

// pdfText extracts text page by page. A single unreadable page is skipped;
// a document with no readable pages at all is an error.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		extracted++
	}
	if extracted == 0 {
		return "", fmt.Errorf("no extractable text in pdf (%d pages)", pages)
	}
	return sb.String(), nil
}

// htmlText walks the parse tree collecting text nodes, skipping script and
// style subtrees.
func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}

// ReadAll is a convenience wrapper for callers holding a stream.
func ReadAll(r io.Reader, contentType, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return Text(contentType, name, data)
}
