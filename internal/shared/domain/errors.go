package domain

import "errors"

var (
	// ErrTransportFailure: el broker o el transporte de notificaciones no
	// aceptó el mensaje. Se registra; nunca llega al cliente HTTP.
	ErrTransportFailure = errors.New("transport failure")

	// ErrOutboxEventNotFound: se intentó marcar un evento que ya no está pendiente.
	ErrOutboxEventNotFound = errors.New("outbox event not found")
)
