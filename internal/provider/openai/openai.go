// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

func init() {
	provider.Register(provider.NameOpenAI, func(cfg provider.Config) (provider.Provider, error) {
		return New(Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	})
}

// Compile-time capability checks.
var (
	_ provider.Completer   = (*Provider)(nil)
	_ provider.Streamer    = (*Provider)(nil)
	_ provider.ModelLister = (*Provider)(nil)
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional; any OpenAI-compatible endpoint
}

// Provider talks to the OpenAI Chat Completions API or a compatible host.
type Provider struct {
	client openaisdk.Client
	config Config
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "openai: missing api_key in config", dmerr.FieldProvider("openai"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openaisdk.NewClient(opts...)
	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return string(provider.NameOpenAI) }

func (p *Provider) Close() error { return nil }

// Complete sends the transcript and returns the first choice as the
// assistant message.
func (p *Provider) Complete(ctx context.Context, model string, msgs []conversation.Message) (provider.Completion, error) {
	params, err := buildParams(model, msgs)
	if err != nil {
		return provider.Completion{}, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Completion{}, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "openai: chat completion",
			dmerr.FieldProvider("openai"), dmerr.FieldModel(model))
	}
	if len(resp.Choices) == 0 {
		return provider.Completion{}, dmerr.New(dmerr.CodeProviderResponseInvalid, "openai: response has no choices",
			dmerr.FieldProvider("openai"), dmerr.FieldModel(model))
	}

	content := resp.Choices[0].Message.Content
	msg := conversation.AssistantMessage(content)
	return provider.Completion{
		Content: content,
		Message: &msg,
		Usage: &provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// CompleteStream opens a streaming completion when the returned sequence is
// first ranged over. Empty deltas (role headers, usage chunks) are skipped.
func (p *Provider) CompleteStream(ctx context.Context, model string, msgs []conversation.Message) (provider.Stream, error) {
	params, err := buildParams(model, msgs)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield("", dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "openai: streaming chat completion",
				dmerr.FieldProvider("openai"), dmerr.FieldModel(model)))
		}
	}, nil
}

// ListModels queries the models endpoint of the configured host.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	var models []provider.ModelInfo

	pager := p.client.Models.ListAutoPaging(ctx)
	for pager.Next() {
		m := pager.Current()
		models = append(models, provider.ModelInfo{
			ID:       m.ID,
			Name:     m.ID,
			Provider: string(provider.NameOpenAI),
		})
	}
	if err := pager.Err(); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "openai: listing models", dmerr.FieldProvider("openai"))
	}

	return models, nil
}

// buildParams converts a transcript into SDK request parameters.
func buildParams(model string, msgs []conversation.Message) (openaisdk.ChatCompletionNewParams, error) {
	if model == "" {
		return openaisdk.ChatCompletionNewParams{}, dmerr.New(dmerr.CodeProviderRequestInvalid, "openai: model must not be empty")
	}

	converted, err := convertMessages(msgs)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	return openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: converted,
	}, nil
}

// convertMessages transforms transcript messages into OpenAI SDK message params.
// System messages stay in place; OpenAI accepts them anywhere in the list.
func convertMessages(msgs []conversation.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		case conversation.RoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case conversation.RoleAssistant:
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		default:
			return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}
