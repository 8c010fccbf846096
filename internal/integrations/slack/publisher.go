package slackbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// ErrDisabled is returned when no bot token or channel is configured.
var ErrDisabled = errors.New("slack publishing disabled")

// Publisher posts cycle summaries and uploads generated documents to one
// channel.
type Publisher struct {
	api       *slack.Client
	channelID string
	log       *zap.SugaredLogger
}

// NewPublisher returns a publisher. An empty token or channel yields a
// disabled publisher whose methods return ErrDisabled.
func NewPublisher(token, channelID string, log *zap.SugaredLogger, opts ...slack.Option) *Publisher {
	p := &Publisher{channelID: channelID, log: log}
	if token != "" && channelID != "" {
		p.api = slack.New(token, opts...)
	}
	return p
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.api != nil
}

func (p *Publisher) PostSummary(ctx context.Context, text string) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	_, _, err := p.api.PostMessageContext(ctx, p.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post summary: %w", err)
	}
	p.log.Infow("slack summary posted", "channel", p.channelID)
	return nil
}

// Upload sends the file at path to the channel and returns the Slack file ID.
func (p *Publisher) Upload(ctx context.Context, path, title string) (string, error) {
	if !p.Enabled() {
		return "", ErrDisabled
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	if fi.Size() <= 0 {
		return "", fmt.Errorf("upload %s: file is empty", path)
	}

	summary, err := p.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(path),
		Channel:        p.channelID,
		Title:          title,
		InitialComment: fmt.Sprintf("New ebook: %s", title),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	p.log.Infow("slack upload done", "file", filepath.Base(path), "file_id", summary.ID)
	return summary.ID, nil
}
