package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookforge/internal/domain"
)

func sampleEbook() domain.Ebook {
	return domain.Ebook{
		Title:     "Tea Time",
		Subtitle:  "A short guide",
		Topic:     "tea",
		Keywords:  []string{"tea", "brewing"},
		CreatedAt: "2026-03-04 05:06:07",
		Chapters: []domain.EbookChapter{
			{ChapterTitle: "Origins", Content: "Tea began in **China**.\n"},
			{ChapterTitle: "Brewing", Content: "Use fresh water."},
		},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleEbook(), "../covers/tea_cover.jpg")

	assert.True(t, strings.HasPrefix(md, "# Tea Time\n\n*A short guide*\n\n"))
	assert.Contains(t, md, "![Cover](../covers/tea_cover.jpg)")
	assert.Contains(t, md, "**Keywords:** tea, brewing")
	assert.Contains(t, md, "## Chapter 1: Origins\n\nTea began in **China**.\n\n")
	assert.Contains(t, md, "## Chapter 2: Brewing")
}

func TestMarkdownWithoutCover(t *testing.T) {
	md := Markdown(domain.Ebook{Title: "Bare", Chapters: []domain.EbookChapter{}}, "")

	assert.Equal(t, "# Bare\n\n", md)
}

func TestHTML(t *testing.T) {
	out := string(HTML("# Tea Time\n\nTea began in **China**.\n", "Tea Time"))

	assert.Contains(t, out, "<title>Tea Time</title>")
	assert.Contains(t, out, "Tea Time</h1>")
	assert.Contains(t, out, "<strong>China</strong>")
	assert.Contains(t, out, "max-width: 46em")
}

func TestWriteDocument(t *testing.T) {
	root := t.TempDir()
	coverPath := filepath.Join(root, "covers", "tea_cover.jpg")
	docDir := filepath.Join(root, "documents")

	doc, err := WriteDocument(sampleEbook(), coverPath, docDir, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(docDir, "tea.md"), doc.MarkdownPath)
	assert.Equal(t, filepath.Join(docDir, "tea.html"), doc.HTMLPath)

	md, err := os.ReadFile(doc.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "![Cover](../covers/tea_cover.jpg)")

	page, err := os.ReadFile(doc.HTMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), `src="../covers/tea_cover.jpg"`)
	assert.Contains(t, string(page), "Origins</h2>")
}

func TestWriteDocumentStampKeepsEarlierCycles(t *testing.T) {
	docDir := t.TempDir()

	first, err := WriteDocument(sampleEbook(), "", docDir, "20260501_0900")
	require.NoError(t, err)
	second, err := WriteDocument(sampleEbook(), "", docDir, "20260501_1200")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(docDir, "tea_20260501_0900.md"), first.MarkdownPath)
	assert.Equal(t, filepath.Join(docDir, "tea_20260501_0900.html"), first.HTMLPath)
	assert.Equal(t, filepath.Join(docDir, "tea_20260501_1200.html"), second.HTMLPath)
	assert.FileExists(t, first.HTMLPath)
	assert.FileExists(t, second.HTMLPath)
}
