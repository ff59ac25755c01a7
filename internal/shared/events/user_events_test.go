package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	calls []EventType
}

func (h *recordingHandler) OnCreated(_ context.Context, e UserEvent) error {
	h.calls = append(h.calls, UserCreated)
	return nil
}

func (h *recordingHandler) OnUpdated(_ context.Context, e UserEvent) error {
	h.calls = append(h.calls, UserUpdated)
	return nil
}

func (h *recordingHandler) OnDeleted(_ context.Context, e UserEvent) error {
	h.calls = append(h.calls, UserDeleted)
	return nil
}

func TestUserEvent_Dispatch(t *testing.T) {
	h := &recordingHandler{}
	ctx := context.Background()

	require.NoError(t, NewUserEvent("a@x.com", UserCreated).Dispatch(ctx, h))
	require.NoError(t, NewUserEvent("a@x.com", UserUpdated).Dispatch(ctx, h))
	require.NoError(t, NewUserEvent("a@x.com", UserDeleted).Dispatch(ctx, h))

	assert.Equal(t, []EventType{UserCreated, UserUpdated, UserDeleted}, h.calls)
}

func TestUserEvent_DispatchUnknownType(t *testing.T) {
	h := &recordingHandler{}
	err := NewUserEvent("a@x.com", EventType("SUSPENDED")).Dispatch(context.Background(), h)

	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Empty(t, h.calls)
}

func TestUserEvent_PartitionKeyIsEmail(t *testing.T) {
	assert.Equal(t, "b@x.com", NewUserEvent("b@x.com", UserUpdated).PartitionKey())
}

func TestDecodeUserEvent(t *testing.T) {
	evt, err := DecodeUserEvent([]byte(`{"email":"a@x.com","eventType":"CREATED"}`))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", evt.Email)
	assert.Equal(t, UserCreated, evt.Type)

	_, err = DecodeUserEvent([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = DecodeUserEvent([]byte(`{"eventType":"CREATED"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	evt, err = DecodeUserEvent([]byte(`{"email":"a@x.com","eventType":"SUSPENDED"}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("SUSPENDED"), evt.Type)
}

func TestParseEventType(t *testing.T) {
	et, err := ParseEventType("DELETED")
	require.NoError(t, err)
	assert.Equal(t, UserDeleted, et)

	_, err = ParseEventType("deleted")
	assert.ErrorIs(t, err, ErrUnknownEventType)
}
