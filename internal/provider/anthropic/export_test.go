// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/deskmate-dev/deskmate/internal/conversation"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []conversation.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	return convertMessages(msgs)
}
