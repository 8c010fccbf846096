// Package pipeline runs one content cycle: trending topics are scored,
// the best few get an outline, chapters, a cover and a rendered document,
// and the result is published.
package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookforge/internal/domain"
	"bookforge/internal/integrations/cover"
	"bookforge/internal/integrations/llm"
	slackbot "bookforge/internal/integrations/slack"
	"bookforge/internal/integrations/trends"
	"bookforge/internal/llmjson"
	"bookforge/internal/metrics"
	"bookforge/internal/render"
	"bookforge/internal/storage/sqlite"
	"bookforge/internal/topics"
)

const (
	CallSiteTopicAnalysis = "topic_analysis"
	CallSiteOutline       = "outline"

	fallbackReason  = "Default fallback"
	fileStampLayout = "20060102_1504"
)

type TrendSource interface {
	Fetch(ctx context.Context) ([]trends.Trend, error)
}

type CoverSource interface {
	Generate(ctx context.Context, topic, dir string) (string, error)
}

type Publisher interface {
	PostSummary(ctx context.Context, text string) error
	Upload(ctx context.Context, path, title string) (string, error)
}

// Pipeline holds the collaborators of a cycle. Covers, Publisher, DB and
// Metrics are optional.
type Pipeline struct {
	Trends    TrendSource
	LLM       llm.Generator
	Covers    CoverSource
	Publisher Publisher
	DB        *sql.DB
	Metrics   *metrics.Metrics
	Log       *zap.SugaredLogger
	DataDir   string
	TopK      int

	Now   func() time.Time
	NewID func() string
}

type TopicResult struct {
	Rank         int
	Topic        string
	Score        int
	Result       string
	OutlinePath  string
	EbookPath    string
	CoverPath    string
	DocumentPath string
	Err          error
}

type CycleReport struct {
	ID           string
	StartedAt    time.Time
	Duration     time.Duration
	Trends       []string
	AnalysisPath string
	Selected     []topics.Record
	Topics       []TopicResult
	Usage        llm.Usage
	Extractions  map[string]map[llmjson.Status]int
}

func (r CycleReport) Count(result string) int {
	n := 0
	for _, t := range r.Topics {
		if t.Result == result {
			n++
		}
	}
	return n
}

// Summary is the chat message posted at the end of a cycle.
func (r CycleReport) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BookForge cycle %s finished in %s: %d trends, %d topics selected, %d ebooks rendered",
		shortID(r.ID), r.Duration.Round(time.Second), len(r.Trends), len(r.Selected),
		r.Count(sqlite.TopicRendered)+r.Count(sqlite.TopicUploaded))
	if failed := r.Count(sqlite.TopicFailed); failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", failed)
	}
	fmt.Fprintf(&sb, " (tokens used: %d)", r.Usage.TotalTokens())
	for _, t := range r.Topics {
		fmt.Fprintf(&sb, "\n• %s (score %d): %s", t.Topic, t.Score, t.Result)
		if t.Err != nil {
			fmt.Fprintf(&sb, " - %v", t.Err)
		}
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

// RunCycle runs every step strictly in sequence. Failures of a single topic
// are recorded and the next topic continues; a failed trend fetch or an
// empty ranking ends the cycle with an error.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		ID:          p.newID(),
		StartedAt:   p.now(),
		Extractions: make(map[string]map[llmjson.Status]int),
	}
	log := p.Log.With("cycle", shortID(report.ID))
	log.Infow("cycle started", "at", report.StartedAt.Format(time.RFC3339))
	p.storeCycleStart(log, report)

	err := p.runCycle(ctx, log, &report)

	report.Duration = p.now().Sub(report.StartedAt)
	if p.Metrics != nil {
		p.Metrics.ObserveCycle(report.Duration)
	}
	p.storeCycleFinish(log, report, err)
	if err != nil {
		log.Errorw("cycle failed", "error", err, "duration", report.Duration)
		return report, err
	}

	log.Infow("cycle complete", "topics", len(report.Topics),
		"rendered", report.Count(sqlite.TopicRendered)+report.Count(sqlite.TopicUploaded),
		"failed", report.Count(sqlite.TopicFailed), "tokens", report.Usage.TotalTokens(),
		"duration", report.Duration)
	p.postSummary(ctx, log, report)
	return report, nil
}

func (p *Pipeline) runCycle(ctx context.Context, log *zap.SugaredLogger, report *CycleReport) error {
	trendList, err := p.Trends.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch trending topics: %w", err)
	}
	report.Trends = trends.Titles(trendList)
	log.Infow("trends fetched", "count", len(report.Trends))

	selected, err := p.selectTopics(ctx, log, report)
	if err != nil {
		return err
	}
	report.Selected = selected
	log.Infow("topics selected", "topics", topics.Titles(selected))

	for i, rec := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Infow("topic started", "progress", fmt.Sprintf("[%d/%d]", i+1, len(selected)), "topic", rec.Topic)
		result := p.processTopic(ctx, log.With("topic", rec.Topic), report, i+1, rec)
		report.Topics = append(report.Topics, result)
		p.storeTopicRun(log, report.ID, result)
		if p.Metrics != nil {
			p.Metrics.ObserveTopic(result.Result)
		}
	}
	return nil
}

func (p *Pipeline) selectTopics(ctx context.Context, log *zap.SugaredLogger, report *CycleReport) ([]topics.Record, error) {
	titles := report.Trends
	fallback := func() any {
		out := make([]any, 0, len(titles))
		for _, t := range titles {
			out = append(out, map[string]any{"topic": t, "score": topics.DefaultScore, "reason": fallbackReason})
		}
		return out
	}

	systemPrompt, userPrompt := llm.TopicAnalysisPrompts(titles)
	raw, err := p.generate(ctx, report, systemPrompt, userPrompt)
	var res llmjson.Result
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnw("topic analysis failed, using default scores", "error", err)
		res = llmjson.Result{Value: fallback(), Status: llmjson.StatusFallback}
	} else {
		res = llmjson.Extract(raw, fallback)
	}
	p.observeExtraction(log, report, CallSiteTopicAnalysis, res.Status, len(raw))

	path := filepath.Join(p.DataDir, "trends_"+report.StartedAt.Format(fileStampLayout)+".json")
	if err := writeJSON(path, res.Value); err != nil {
		log.Warnw("save topic analysis failed", "path", path, "error", err)
	} else {
		report.AnalysisPath = path
		log.Infow("topic analysis saved", "path", path)
	}

	records := topics.Normalize(topics.FromValue(res.Value))
	ranked, err := topics.Rank(records, p.TopK)
	if err != nil {
		return nil, fmt.Errorf("rank topics: %w", err)
	}
	return ranked, nil
}

func (p *Pipeline) processTopic(ctx context.Context, log *zap.SugaredLogger, report *CycleReport, rank int, rec topics.Record) TopicResult {
	result := TopicResult{Rank: rank, Topic: rec.Topic, Score: rec.Score, Result: sqlite.TopicFailed}
	fail := func(step string, err error) TopicResult {
		result.Err = fmt.Errorf("%s: %w", step, err)
		log.Warnw("topic failed", "step", step, "error", err)
		return result
	}

	outline, err := p.buildOutline(ctx, log, report, rec.Topic)
	if err != nil {
		return fail("outline", err)
	}
	result.OutlinePath = filepath.Join(p.DataDir, "outlines", domain.Slug(rec.Topic)+"_outline.json")
	if err := writeJSON(result.OutlinePath, outline); err != nil {
		return fail("save outline", err)
	}
	log.Infow("outline saved", "path", result.OutlinePath, "chapters", len(outline.Chapters))

	ebook, err := p.writeChapters(ctx, log, report, outline)
	if err != nil {
		return fail("chapters", err)
	}
	stamp := p.now().Format(fileStampLayout)
	result.EbookPath = filepath.Join(p.DataDir, "ebooks", domain.Slug(rec.Topic)+"_"+stamp+".json")
	if err := writeJSON(result.EbookPath, ebook); err != nil {
		return fail("save ebook", err)
	}
	log.Infow("ebook saved", "path", result.EbookPath)

	if p.Covers != nil {
		coverPath, err := p.Covers.Generate(ctx, rec.Topic, filepath.Join(p.DataDir, "covers"))
		switch {
		case err == nil:
			result.CoverPath = coverPath
		case errors.Is(err, cover.ErrNoCover):
			log.Infow("no cover generated, continuing without image")
		default:
			log.Warnw("cover generation failed", "error", err)
		}
	}

	doc, err := render.WriteDocument(ebook, result.CoverPath, filepath.Join(p.DataDir, "documents"), stamp)
	if err != nil {
		return fail("render", err)
	}
	result.DocumentPath = doc.HTMLPath
	result.Result = sqlite.TopicRendered
	log.Infow("document rendered", "path", doc.HTMLPath)

	if p.Publisher != nil {
		_, err := p.Publisher.Upload(ctx, doc.HTMLPath, ebook.Title)
		switch {
		case err == nil:
			result.Result = sqlite.TopicUploaded
		case errors.Is(err, slackbot.ErrDisabled):
			log.Infow("skipping upload, publisher not configured")
		default:
			log.Warnw("upload failed", "error", err)
		}
	}
	return result
}

// buildOutline asks for an outline and always returns one with chapters
// unless the model call itself fails.
func (p *Pipeline) buildOutline(ctx context.Context, log *zap.SugaredLogger, report *CycleReport, topic string) (domain.Outline, error) {
	systemPrompt, userPrompt := llm.OutlinePrompts(topic)
	raw, err := p.generate(ctx, report, systemPrompt, userPrompt)
	if err != nil {
		return domain.Outline{}, err
	}

	fallback := func() any {
		return map[string]any{"topic": topic, "raw_response": raw}
	}
	res := llmjson.Extract(raw, fallback)
	p.observeExtraction(log, report, CallSiteOutline, res.Status, len(raw))

	fields, ok := res.Value.(map[string]any)
	if !ok {
		log.Warnw("outline is not an object, using fallback", "type", fmt.Sprintf("%T", res.Value))
		fields = fallback().(map[string]any)
	}
	if t, ok := fields["topic"].(string); !ok || strings.TrimSpace(t) == "" {
		fields["topic"] = topic
	}

	var outline domain.Outline
	if err := llmjson.Convert(fields, &outline); err != nil {
		log.Warnw("outline has unexpected shape, using default", "error", err)
		outline = domain.Outline{Topic: topic, RawResponse: raw}
	}
	if len(outline.Chapters) == 0 {
		def := domain.DefaultOutline(outline.Topic)
		def.RawResponse = outline.RawResponse
		if outline.Title != "" {
			def.Title = outline.Title
		}
		if outline.Subtitle != "" {
			def.Subtitle = outline.Subtitle
		}
		if len(outline.Keywords) > 0 {
			def.Keywords = outline.Keywords
		}
		outline = def
	}
	return outline, nil
}

func (p *Pipeline) writeChapters(ctx context.Context, log *zap.SugaredLogger, report *CycleReport, outline domain.Outline) (domain.Ebook, error) {
	ebook := domain.NewEbook(outline, p.now())
	failed := 0
	for i, ch := range outline.Chapters {
		n := i + 1
		title := ch.ChapterTitleOr(n)
		log.Infow("writing chapter", "n", n, "title", title)

		systemPrompt, userPrompt := llm.ChapterPrompts(ebook.Title, ch, n)
		text, err := p.generate(ctx, report, systemPrompt, userPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return ebook, ctx.Err()
			}
			failed++
			log.Warnw("chapter failed", "n", n, "error", err)
			text = fmt.Sprintf("_This chapter could not be generated: %v_", err)
		}
		ebook.Chapters = append(ebook.Chapters, domain.EbookChapter{
			ChapterTitle: title,
			Content:      strings.TrimSpace(text),
		})
	}
	if failed > 0 && failed == len(outline.Chapters) {
		return ebook, fmt.Errorf("all %d chapters failed", failed)
	}
	return ebook, nil
}

func (p *Pipeline) generate(ctx context.Context, report *CycleReport, systemPrompt, userPrompt string) (string, error) {
	text, usage, err := p.LLM.Generate(ctx, systemPrompt, userPrompt)
	report.Usage.Add(usage)
	if p.Metrics != nil {
		p.Metrics.ObserveTokens(usage.InputTokens, usage.OutputTokens)
	}
	return text, err
}

func (p *Pipeline) observeExtraction(log *zap.SugaredLogger, report *CycleReport, callSite string, status llmjson.Status, rawBytes int) {
	log.Infow("json extraction", "call_site", callSite, "status", status.String())
	if report.Extractions[callSite] == nil {
		report.Extractions[callSite] = make(map[llmjson.Status]int)
	}
	report.Extractions[callSite][status]++
	if p.Metrics != nil {
		p.Metrics.ObserveExtraction(callSite, status.String())
	}
	if p.DB != nil {
		err := sqlite.RecordExtraction(p.DB, sqlite.Extraction{
			CycleID:  report.ID,
			CallSite: callSite,
			Status:   status.String(),
			RawBytes: rawBytes,
		}, p.now())
		if err != nil {
			log.Warnw("store extraction failed", "error", err)
		}
	}
}

func (p *Pipeline) storeCycleStart(log *zap.SugaredLogger, report CycleReport) {
	if p.DB == nil {
		return
	}
	if err := sqlite.InsertCycle(p.DB, report.ID, report.StartedAt); err != nil {
		log.Warnw("store cycle failed", "error", err)
	}
}

func (p *Pipeline) storeCycleFinish(log *zap.SugaredLogger, report CycleReport, cycleErr error) {
	if p.DB == nil {
		return
	}
	c := sqlite.Cycle{
		ID:             report.ID,
		FinishedAt:     sql.NullTime{Time: report.StartedAt.Add(report.Duration), Valid: true},
		TrendsFetched:  len(report.Trends),
		TopicsSelected: len(report.Selected),
		EbooksWritten:  report.Count(sqlite.TopicRendered) + report.Count(sqlite.TopicUploaded),
	}
	if cycleErr != nil {
		c.Error = cycleErr.Error()
	}
	if err := sqlite.FinishCycle(p.DB, c); err != nil {
		log.Warnw("store cycle result failed", "error", err)
	}
}

func (p *Pipeline) storeTopicRun(log *zap.SugaredLogger, cycleID string, r TopicResult) {
	if p.DB == nil {
		return
	}
	run := sqlite.TopicRun{
		CycleID:      cycleID,
		Rank:         r.Rank,
		Topic:        r.Topic,
		Score:        r.Score,
		Result:       r.Result,
		EbookPath:    r.EbookPath,
		DocumentPath: r.DocumentPath,
		CoverPath:    r.CoverPath,
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	if err := sqlite.InsertTopicRun(p.DB, run); err != nil {
		log.Warnw("store topic run failed", "error", err)
	}
}

func (p *Pipeline) postSummary(ctx context.Context, log *zap.SugaredLogger, report CycleReport) {
	if p.Publisher == nil {
		return
	}
	err := p.Publisher.PostSummary(ctx, report.Summary())
	if err != nil && !errors.Is(err, slackbot.ErrDisabled) {
		log.Warnw("post summary failed", "error", err)
	}
}

// writeJSON writes v indented, with non-ASCII and HTML characters kept as is.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
