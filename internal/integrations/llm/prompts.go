package llm

import (
	"fmt"
	"strings"

	"bookforge/internal/domain"
)

// TopicAnalysisPrompts asks the model to score trending topics. The reply is
// expected to be a JSON list of {topic, score, reason}.
func TopicAnalysisPrompts(topics []string) (string, string) {
	systemPrompt := `You are an expert SEO strategist and content marketer.
Rate each topic from 0 to 100 for content potential, monetization value and
long-term SEO performance.

Return ONLY valid JSON, in the format:
[
  {"topic": "topic_name", "score": 0-100, "reason": "short explanation"}
]`

	var sb strings.Builder
	sb.WriteString("Topics:\n")
	for _, t := range topics {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	return systemPrompt, sb.String()
}

// OutlinePrompts asks for a structured ebook outline for topic.
func OutlinePrompts(topic string) (string, string) {
	systemPrompt := `You are an SEO strategist and professional eBook planner.
Your response must be strict JSON in this format:
{
  "topic": "<the topic, unchanged>",
  "title": "Readable, catchy eBook title",
  "subtitle": "Short, attractive subtitle",
  "keywords": ["keyword1", "keyword2"],
  "chapters": [
    {"chapter_title": "Title 1", "description": "Short 1-2 sentence summary"}
  ]
}`
	userPrompt := fmt.Sprintf("Create a detailed SEO-optimized eBook outline for the topic:\n%q", topic)
	return systemPrompt, userPrompt
}

// ChapterPrompts asks for the prose of one chapter.
func ChapterPrompts(bookTitle string, chapter domain.OutlineChapter, n int) (string, string) {
	systemPrompt := `You are a professional eBook writer. Write detailed, engaging,
reader-friendly chapters in natural, clear English with real insights and flow.
Reply with the chapter text only, in Markdown, without repeating the chapter title.`

	var sb strings.Builder
	fmt.Fprintf(&sb, "eBook title: %q\n", bookTitle)
	fmt.Fprintf(&sb, "Chapter title: %q\n", chapter.ChapterTitleOr(n))
	if d := strings.TrimSpace(chapter.Description); d != "" {
		fmt.Fprintf(&sb, "Description: %s\n", d)
	}
	return systemPrompt, sb.String()
}
