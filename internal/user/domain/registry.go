package domain

import (
	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

// NewEventRegistry declara qué tipos de evento de User puede relayar el outbox.
func NewEventRegistry() sharedDomain.EventRegistry {
	return sharedDomain.EventRegistry{
		string(sharedEvents.UserCreated): {Topic: sharedEvents.UserTopic},
		string(sharedEvents.UserUpdated): {Topic: sharedEvents.UserTopic},
		string(sharedEvents.UserDeleted): {Topic: sharedEvents.UserTopic},
	}
}
