package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestAPIError_HTTPStatus(t *testing.T) {
	err := &APIError{StatusCode: 429, Message: "rate limited"}
	assert.Equal(t, 429, err.HTTPStatus())
	assert.Equal(t, "rate limited", err.Error())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})

	assert.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
}

func TestFromSDKMessage_ConcatenatesTextBlocks(t *testing.T) {
	msg := &sdk.Message{
		ID:         "msg_1",
		Model:      "claude-haiku-4-5",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "part one, "},
			{Type: "tool_use"},
			{Type: "text", Text: "part two"},
		},
		Usage: sdk.Usage{InputTokens: 12, OutputTokens: 34},
	}

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "part one, part two", resp.Text)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(34), resp.Usage.OutputTokens)
}
