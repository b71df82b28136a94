package toolreg

import (
	"sync"

	"opsagent/internal/domain"
)

const defaultEventBuffer = 64

// subscribers fans events out to channels without blocking the publisher.
type subscribers struct {
	mu   sync.RWMutex
	subs map[<-chan domain.ToolEvent]chan domain.ToolEvent
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[<-chan domain.ToolEvent]chan domain.ToolEvent)}
}

func (s *subscribers) subscribe(buffer int) <-chan domain.ToolEvent {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan domain.ToolEvent, buffer)
	s.mu.Lock()
	s.subs[ch] = ch
	s.mu.Unlock()
	return ch
}

// unsubscribe removes and closes ch. Unknown channels are ignored.
func (s *subscribers) unsubscribe(ch <-chan domain.ToolEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if writable, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(writable)
	}
}

func (s *subscribers) publish(event domain.ToolEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
