package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionValid(t *testing.T) {
	assert.True(t, ActionFollowRequested.Valid())
	assert.True(t, ActionMessageReceived.Valid())
	assert.False(t, Action("poke").Valid())
	assert.False(t, Action("").Valid())
}

func TestNotificationEventValidate(t *testing.T) {
	ok := NotificationEvent{RecipientID: 9, SenderID: 7, Action: ActionMentionInPost, TargetID: 3}
	assert.NoError(t, ok.Validate())

	tests := map[string]NotificationEvent{
		"missing recipient": {SenderID: 7, Action: ActionMentionInPost, TargetID: 3},
		"missing sender":    {RecipientID: 9, Action: ActionMentionInPost, TargetID: 3},
		"unknown action":    {RecipientID: 9, SenderID: 7, Action: "poke", TargetID: 3},
		"missing target":    {RecipientID: 9, SenderID: 7, Action: ActionFollowRequested},
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ev.Validate())
		})
	}
}
