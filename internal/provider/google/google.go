// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

func init() {
	provider.Register(provider.NameGoogle, func(cfg provider.Config) (provider.Provider, error) {
		return New(Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	})
}

var (
	_ provider.Completer   = (*Provider)(nil)
	_ provider.Streamer    = (*Provider)(nil)
	_ provider.ModelLister = (*Provider)(nil)
)

// Config holds Google provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider talks to the Google Gemini API.
type Provider struct {
	client *genai.Client
	config Config
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "google: missing api_key in config", dmerr.FieldProvider("google"))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return string(provider.NameGoogle) }

func (p *Provider) Close() error { return nil }

func (p *Provider) Complete(ctx context.Context, model string, msgs []conversation.Message) (provider.Completion, error) {
	contents, cfg, err := buildRequest(model, msgs)
	if err != nil {
		return provider.Completion{}, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return provider.Completion{}, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "google: generating content",
			dmerr.FieldProvider("google"), dmerr.FieldModel(model))
	}

	content, ok := responseText(resp)
	if !ok {
		return provider.Completion{}, dmerr.New(dmerr.CodeProviderResponseInvalid, "google: response has no candidates",
			dmerr.FieldProvider("google"), dmerr.FieldModel(model))
	}

	msg := conversation.AssistantMessage(content)
	completion := provider.Completion{Content: content, Message: &msg}
	if resp.UsageMetadata != nil {
		completion.Usage = &provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return completion, nil
}

func (p *Provider) CompleteStream(ctx context.Context, model string, msgs []conversation.Message) (provider.Stream, error) {
	contents, cfg, err := buildRequest(model, msgs)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				yield("", dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "google: streaming content",
					dmerr.FieldProvider("google"), dmerr.FieldModel(model)))
				return
			}
			text, _ := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	var models []provider.ModelInfo
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "google: listing models", dmerr.FieldProvider("google"))
		}
		models = append(models, provider.ModelInfo{
			ID:       strings.TrimPrefix(m.Name, "models/"),
			Name:     m.DisplayName,
			Provider: string(provider.NameGoogle),
		})
	}
	return models, nil
}

// responseText concatenates the text parts of the first candidate. ok is
// false when the response carries no candidate content at all.
func responseText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String(), true
}

func buildRequest(model string, msgs []conversation.Message) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if model == "" {
		return nil, nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "google: model must not be empty")
	}
	system, contents, err := convertMessages(msgs)
	if err != nil {
		return nil, nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if system != nil {
		cfg.SystemInstruction = system
	}
	return contents, cfg, nil
}

// convertMessages transforms transcript messages into genai.Content slices.
// System messages are gathered into a single SystemInstruction; the
// assistant role is called "model" by the Gemini API.
func convertMessages(msgs []conversation.Message) (*genai.Content, []*genai.Content, error) {
	var (
		system *genai.Content
		result []*genai.Content
	)

	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})
		case conversation.RoleUser:
			result = append(result, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case conversation.RoleAssistant:
			result = append(result, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			return nil, nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	return system, result, nil
}
