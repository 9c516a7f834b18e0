// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"

	"github.com/deskmate-dev/deskmate/internal/conversation"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []conversation.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	return convertMessages(msgs)
}
