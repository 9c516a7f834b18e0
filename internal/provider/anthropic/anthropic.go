// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

func init() {
	provider.Register(provider.NameAnthropic, func(cfg provider.Config) (provider.Provider, error) {
		return New(Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	})
}

var (
	_ provider.Completer   = (*Provider)(nil)
	_ provider.Streamer    = (*Provider)(nil)
	_ provider.ModelLister = (*Provider)(nil)
)

const defaultMaxTokens = 4096

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider talks to the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	config Config
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config", dmerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropicsdk.NewClient(opts...)
	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return string(provider.NameAnthropic) }

func (p *Provider) Close() error { return nil }

func (p *Provider) Complete(ctx context.Context, model string, msgs []conversation.Message) (provider.Completion, error) {
	params, err := buildParams(model, msgs)
	if err != nil {
		return provider.Completion{}, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Completion{}, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "anthropic: creating message",
			dmerr.FieldProvider("anthropic"), dmerr.FieldModel(model))
	}

	var b strings.Builder
	texts := 0
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
			texts++
		}
	}
	if texts == 0 {
		return provider.Completion{}, dmerr.New(dmerr.CodeProviderResponseInvalid, "anthropic: response has no text content",
			dmerr.FieldProvider("anthropic"), dmerr.FieldModel(model))
	}

	content := b.String()
	msg := conversation.AssistantMessage(content)
	return provider.Completion{
		Content: content,
		Message: &msg,
		Usage: &provider.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// CompleteStream yields text_delta payloads in arrival order.
func (p *Provider) CompleteStream(ctx context.Context, model string, msgs []conversation.Message) (provider.Stream, error) {
	params, err := buildParams(model, msgs)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
					continue
				}
				if !yield(event.Delta.Text, nil) {
					return
				}
			case "message_stop":
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield("", dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "anthropic: streaming message",
				dmerr.FieldProvider("anthropic"), dmerr.FieldModel(model)))
		}
	}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	var models []provider.ModelInfo

	pager := p.client.Models.ListAutoPaging(ctx, anthropicsdk.ModelListParams{})
	for pager.Next() {
		m := pager.Current()
		models = append(models, provider.ModelInfo{
			ID:       m.ID,
			Name:     m.DisplayName,
			Provider: string(provider.NameAnthropic),
		})
	}
	if err := pager.Err(); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "anthropic: listing models", dmerr.FieldProvider("anthropic"))
	}

	return models, nil
}

// buildParams converts a transcript into Anthropic SDK MessageNewParams.
func buildParams(model string, msgs []conversation.Message) (anthropicsdk.MessageNewParams, error) {
	if model == "" {
		return anthropicsdk.MessageNewParams{}, dmerr.New(dmerr.CodeProviderRequestInvalid, "anthropic: model must not be empty")
	}

	system, converted, err := convertMessages(msgs)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  converted,
		MaxTokens: defaultMaxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}

	return params, nil
}

// convertMessages splits a transcript into the top-level system blocks and
// the user/assistant turns. The Messages API requires the first turn to be
// from the user, so assistant messages left at the head by eviction are
// dropped.
func convertMessages(msgs []conversation.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	var (
		system []anthropicsdk.TextBlockParam
		result []anthropicsdk.MessageParam
	)

	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleSystem:
			system = append(system, anthropicsdk.TextBlockParam{Text: msg.Content})
		case conversation.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case conversation.RoleAssistant:
			if len(result) == 0 {
				continue
			}
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		default:
			return nil, nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	return system, result, nil
}
