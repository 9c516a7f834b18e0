// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/deskmate-dev/deskmate/internal/conversation"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []conversation.Message) (*genai.Content, []*genai.Content, error) {
	return convertMessages(msgs)
}

// ResponseText exposes responseText for white-box testing.
var ResponseText = func(resp *genai.GenerateContentResponse) (string, bool) {
	return responseText(resp)
}
