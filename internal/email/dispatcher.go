package email

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mailer agrupa los dos modos de envío que usa el servicio de auth:
// bloqueante (forgot-password, donde el fallo debe propagarse) y
// fire-and-forget (correos no críticos como el de bienvenida).
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Dispatch(msg Message)
}

// Dispatcher desacopla los envíos no críticos del ciclo request/response
// mediante una cola en memoria atendida por un worker propio.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	queue   chan Message
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

const (
	dispatchQueueSize = 64
	sendTimeout       = 30 * time.Second
)

func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		logger: logger,
		queue:  make(chan Message, dispatchQueueSize),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Send envía de forma síncrona; usado donde el fallo importa al caller.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	return d.sender.Send(ctx, msg)
}

// Dispatch encola sin bloquear; si la cola está llena el correo se
// descarta con un log, nunca se bloquea ni falla la petición.
func (d *Dispatcher) Dispatch(msg Message) {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- msg:
	default:
		if d.logger != nil {
			d.logger.Warn("email queue full, dropping message",
				zap.String("template", msg.Template),
				zap.String("to", msg.To),
			)
		}
	}
}

// Close deja de aceptar trabajo y espera a que se drene la cola.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := d.sender.Send(ctx, msg)
		cancel()
		if err != nil && d.logger != nil {
			d.logger.Warn("background email send failed",
				zap.Error(err),
				zap.String("template", msg.Template),
				zap.String("to", msg.To),
			)
		}
	}
}
