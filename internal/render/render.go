// Package render turns a generated ebook into Markdown and a standalone HTML
// page.
package render

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"bookforge/internal/domain"
)

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body { max-width: 46em; margin: 2em auto; padding: 0 1em; font-family: Georgia, serif; line-height: 1.6; color: #222; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
img { display: block; max-width: 100%%; margin: 1em auto 2em; }
</style>
</head>
<body>
`

const pageFoot = "</body>\n</html>\n"

// Markdown renders ebook as a Markdown document. coverRef is the image
// reference to embed and may be empty.
func Markdown(ebook domain.Ebook, coverRef string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", ebook.Title)
	if ebook.Subtitle != "" {
		fmt.Fprintf(&sb, "*%s*\n\n", ebook.Subtitle)
	}
	if coverRef != "" {
		fmt.Fprintf(&sb, "![Cover](%s)\n\n", coverRef)
	}
	if len(ebook.Keywords) > 0 {
		fmt.Fprintf(&sb, "**Keywords:** %s\n\n", strings.Join(ebook.Keywords, ", "))
	}
	if ebook.CreatedAt != "" {
		fmt.Fprintf(&sb, "*Generated %s*\n\n", ebook.CreatedAt)
	}
	for i, ch := range ebook.Chapters {
		sb.WriteString("---\n\n")
		fmt.Fprintf(&sb, "## Chapter %d: %s\n\n", i+1, ch.ChapterTitle)
		sb.WriteString(strings.TrimSpace(ch.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// HTML converts a Markdown document into a complete HTML page.
func HTML(md, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	body := markdown.Render(doc, renderer)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, pageHead, html.EscapeString(title))
	buf.Write(body)
	buf.WriteString(pageFoot)
	return buf.Bytes()
}

// Document is the pair of files written for one ebook.
type Document struct {
	MarkdownPath string
	HTMLPath     string
}

// WriteDocument writes <slug>_<stamp>.md and <slug>_<stamp>.html into dir,
// or <slug>.md and <slug>.html when stamp is empty. coverPath may be empty;
// otherwise it is referenced relative to dir.
func WriteDocument(ebook domain.Ebook, coverPath, dir, stamp string) (Document, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Document{}, fmt.Errorf("create document dir: %w", err)
	}

	md := Markdown(ebook, coverRef(coverPath, dir))
	name := domain.Slug(ebook.Topic)
	if stamp != "" {
		name += "_" + stamp
	}
	base := filepath.Join(dir, name)
	doc := Document{MarkdownPath: base + ".md", HTMLPath: base + ".html"}

	if err := os.WriteFile(doc.MarkdownPath, []byte(md), 0o644); err != nil {
		return Document{}, fmt.Errorf("write markdown: %w", err)
	}
	if err := os.WriteFile(doc.HTMLPath, HTML(md, ebook.Title), 0o644); err != nil {
		return Document{}, fmt.Errorf("write html: %w", err)
	}
	return doc, nil
}

func coverRef(coverPath, dir string) string {
	if coverPath == "" {
		return ""
	}
	absCover, err1 := filepath.Abs(coverPath)
	absDir, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return filepath.ToSlash(coverPath)
	}
	rel, err := filepath.Rel(absDir, absCover)
	if err != nil {
		return filepath.ToSlash(absCover)
	}
	return filepath.ToSlash(rel)
}
