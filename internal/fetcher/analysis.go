package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodesentinel/internal/faults"
)

// UnavailableText replaces an analysis that could not be produced.
const UnavailableText = "🔎 *Contextual analysis unavailable.*"

const maxSources = 3

// ErrInvalidAPIKey is returned when the model API answers 403.
var ErrInvalidAPIKey = errors.New("invalid analysis api key")

// Analysis is a model-written summary and the titles of the pages it cited.
type Analysis struct {
	Text    string
	Sources []string
}

// Render formats the analysis as a chat message.
func (a Analysis) Render() string {
	var b strings.Builder
	b.WriteString("🧠 *AI Contextual Analysis*:\n")
	b.WriteString(strings.TrimSpace(a.Text))
	if len(a.Sources) > 0 {
		b.WriteString("\n\nSources used:")
		for i, src := range a.Sources {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, src)
		}
	}
	return b.String()
}

// AnalysisOptions parameterise the Gemini client.
type AnalysisOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// Gemini calls generateContent with the google_search tool enabled.
type Gemini struct {
	opts    AnalysisOptions
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewGemini builds an analysis client.
func NewGemini(opts AnalysisOptions, logger zerolog.Logger) *Gemini {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	return &Gemini{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "analysis").Logger(),
	}
}

// Analyze asks the model to explain query.
func (g *Gemini) Analyze(ctx context.Context, query string) (Analysis, error) {
	if g.opts.APIKey == "" {
		return Analysis{}, faults.Sampling("gemini", ErrInvalidAPIKey)
	}

	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: query}}}},
		Tools:    []map[string]struct{}{{"google_search": {}}},
	}
	if g.opts.SystemPrompt != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: g.opts.SystemPrompt}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal analysis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.opts.APIKey)

	g.logger.Debug().Str("query", query).Msg("requesting contextual analysis")

	resp, err := g.client.Do(req)
	if err != nil {
		return Analysis{}, faults.Sampling("gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return Analysis{}, faults.Sampling("gemini", ErrInvalidAPIKey)
	}

	var result generateResponse
	if err := decodeJSON(resp, &result, "gemini"); err != nil {
		return Analysis{}, faults.Sampling("gemini", err)
	}
	return result.analysis()
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content             `json:"contents"`
	Tools             []map[string]struct{} `json:"tools,omitempty"`
	SystemInstruction *content              `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web *struct {
					Title string `json:"title"`
					URI   string `json:"uri"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

func (r generateResponse) analysis() (Analysis, error) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return Analysis{}, faults.Parse("gemini", errors.New("response carries no candidates"))
	}
	cand := r.Candidates[0]

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	var sources []string
	for _, chunk := range cand.GroundingMetadata.GroundingChunks {
		if chunk.Web == nil || chunk.Web.Title == "" {
			continue
		}
		sources = append(sources, chunk.Web.Title)
		if len(sources) == maxSources {
			break
		}
	}
	return Analysis{Text: text.String(), Sources: sources}, nil
}

var _ Analyst = (*Gemini)(nil)
