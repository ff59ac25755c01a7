package domain

import (
	"testing"

	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
	"github.com/stretchr/testify/assert"
)

func TestUser_CloneDoesNotShareAge(t *testing.T) {
	age := 30
	u := &User{ID: 1, Name: "Ana", Email: "ana@x.com", Age: &age}

	c := u.Clone()
	*c.Age = 31

	assert.Equal(t, 30, *u.Age)
	assert.Equal(t, u.Email, c.Email)
}

func TestNewOutboxEvent(t *testing.T) {
	evt := sharedEvents.NewUserEvent("ana@x.com", sharedEvents.UserUpdated)

	out := NewOutboxEvent(&User{ID: 7}, evt, []byte(`{}`))
	assert.Equal(t, "7", out.AggregateID)
	assert.Equal(t, "UPDATED", out.EventType)
	assert.Equal(t, "ana@x.com", out.Key)
	assert.Equal(t, AggregateType, out.AggregateType)

	pending := NewOutboxEvent(&User{}, evt, nil)
	assert.Empty(t, pending.AggregateID)
}

func TestNewEventRegistry(t *testing.T) {
	reg := NewEventRegistry()

	for _, et := range []sharedEvents.EventType{sharedEvents.UserCreated, sharedEvents.UserUpdated, sharedEvents.UserDeleted} {
		meta, ok := reg[string(et)]
		assert.True(t, ok, et)
		assert.Equal(t, sharedEvents.UserTopic, meta.Topic)
	}
}
