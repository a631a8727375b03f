package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type message struct {
	level Level
	text  string
}

// Async decouples callers from slow chat services. Messages that do not fit
// in the queue are logged and dropped.
type Async struct {
	next  Notifier
	queue chan message
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	log   *slog.Logger
}

// NewAsync starts a dispatcher in front of next.
func NewAsync(next Notifier, size int) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		next:  next,
		queue: make(chan message, size),
		done:  make(chan struct{}),
		log:   slog.Default().With("component", "notify"),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(ctx context.Context, level Level, text string) error {
	select {
	case <-a.done:
		a.log.Warn("Notifier closed, message dropped", "level", level, "message", text)
		return nil
	default:
	}

	select {
	case a.queue <- message{level: level, text: text}:
	default:
		a.log.Warn("Notification queue full, message dropped", "level", level, "message", text)
	}
	return nil
}

// Close delivers what is queued and stops the dispatcher.
func (a *Async) Close() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case m := <-a.queue:
			a.send(m)
		case <-a.done:
			for {
				select {
				case m := <-a.queue:
					a.send(m)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) send(m message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.next.Notify(ctx, m.level, m.text); err != nil {
		a.log.Error("Failed to deliver notification", "error", err)
	}
}
