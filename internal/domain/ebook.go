package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Outline is the structured plan a model returns for one topic.
type Outline struct {
	Topic       string           `json:"topic"`
	Title       string           `json:"title,omitempty"`
	Subtitle    string           `json:"subtitle,omitempty"`
	Keywords    []string         `json:"keywords,omitempty"`
	Chapters    []OutlineChapter `json:"chapters,omitempty"`
	RawResponse string           `json:"raw_response,omitempty"`
}

type OutlineChapter struct {
	ChapterTitle string `json:"chapter_title"`
	Description  string `json:"description"`
}

// Ebook is the generated book for one topic.
type Ebook struct {
	Title     string         `json:"title"`
	Subtitle  string         `json:"subtitle"`
	Topic     string         `json:"topic"`
	Keywords  []string       `json:"keywords,omitempty"`
	CreatedAt string         `json:"created_at"`
	Chapters  []EbookChapter `json:"chapters"`
}

type EbookChapter struct {
	ChapterTitle string `json:"chapter_title"`
	Content      string `json:"content"`
}

const createdAtLayout = "2006-01-02 15:04:05"

// NewEbook starts an ebook from an outline, filling title and subtitle the
// way the outline left them.
func NewEbook(outline Outline, now time.Time) Ebook {
	title := strings.TrimSpace(outline.Title)
	if title == "" {
		title = outline.Topic
	}
	return Ebook{
		Title:     title,
		Subtitle:  strings.TrimSpace(outline.Subtitle),
		Topic:     outline.Topic,
		Keywords:  outline.Keywords,
		CreatedAt: now.Format(createdAtLayout),
		Chapters:  make([]EbookChapter, 0, len(outline.Chapters)),
	}
}

// DefaultOutline is used when the model gave no usable chapters.
func DefaultOutline(topic string) Outline {
	return Outline{
		Topic:    topic,
		Title:    TitleCase(topic),
		Subtitle: fmt.Sprintf("Insights and guide on %s", topic),
		Keywords: []string{topic},
		Chapters: []OutlineChapter{
			{ChapterTitle: "Introduction", Description: "Overview of the topic"},
		},
	}
}

// ChapterTitleOr returns the chapter's title or "Chapter n".
func (c OutlineChapter) ChapterTitleOr(n int) string {
	if t := strings.TrimSpace(c.ChapterTitle); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", n)
}

func TitleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

const maxSlugLen = 60

// Slug makes a lowercase, filesystem-safe name from a topic. Accents are
// folded, "&" becomes "and" and every other run of non-alphanumerics becomes
// a single underscore.
func Slug(topic string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, topic)
	if err != nil {
		folded = topic
	}
	folded = strings.ReplaceAll(folded, "&", " and ")

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	slug := b.String()
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(truncateRunes(slug, maxSlugLen), "_")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
