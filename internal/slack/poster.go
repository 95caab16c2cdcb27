package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	catalog *catalog.Catalog
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, cat *catalog.Catalog, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		catalog: cat,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// CallSummary is what gets announced for one processed call.
type CallSummary struct {
	CallID    string
	ContactID string
	Fallback  bool
	Fields    extractor.FieldMap
}

// PostCallSummary posts the fields resolved for a call. Returns the message
// timestamp.
func (p *Poster) PostCallSummary(ctx context.Context, sum CallSummary) (string, error) {
	ts, err := p.post(ctx, formatCallMessage(sum, p.catalog))
	if err != nil {
		return "", err
	}
	p.logger.Info("posted call summary to slack", "ts", ts, "call_id", sum.CallID)
	return ts, nil
}

// PostText posts a standalone mrkdwn message.
func (p *Poster) PostText(ctx context.Context, text string) (string, error) {
	return p.post(ctx, text)
}

func (p *Poster) post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatCallMessage(sum CallSummary, cat *catalog.Catalog) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Call:* %s\n", sum.CallID)
	if sum.ContactID != "" {
		fmt.Fprintf(&sb, "*Contact:* %s\n", sum.ContactID)
	}
	sb.WriteString("\n")

	if sum.Fallback {
		sb.WriteString("_Extraction failed; stored the raw summary only._\n")
	}

	n := 0
	for _, def := range cat.Definitions() {
		v, ok := sum.Fields[string(def.Key)]
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. *%s:* %s (%d%%, %s)\n", n, def.DisplayName, v.Value, v.Confidence, v.Source)
	}
	if n == 0 && !sum.Fallback {
		sb.WriteString("_No fields extracted from this call._\n")
	}

	if v, ok := sum.Fields[extractor.KeyVoiceMemory]; ok {
		fmt.Fprintf(&sb, "\n> %s\n", v.Value)
	}
	return strings.TrimRight(sb.String(), "\n")
}
