package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

func TestMessageFor_KnownTypes(t *testing.T) {
	tests := []struct {
		typ     sharedEvents.EventType
		subject string
	}{
		{sharedEvents.UserCreated, "Account created"},
		{sharedEvents.UserUpdated, "Account updated"},
		{sharedEvents.UserDeleted, "Account deleted"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			msg, err := MessageFor(sharedEvents.NewUserEvent("a@x.com", tt.typ))
			require.NoError(t, err)
			assert.Equal(t, "a@x.com", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.NotEmpty(t, msg.Body)
		})
	}
}

func TestMessageFor_UnknownType(t *testing.T) {
	_, err := MessageFor(sharedEvents.UserEvent{Email: "a@x.com", Type: "SUSPENDED"})
	assert.ErrorIs(t, err, sharedEvents.ErrUnknownEventType)
}
