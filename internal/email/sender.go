package email

import (
	"context"
	"errors"
)

// Message es un correo templado pendiente de envío.
type Message struct {
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

// Sender define la interfaz para envío de correos templados.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _ Message) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
