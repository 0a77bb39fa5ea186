package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// maxInboxMessages caps the service messages kept per client
const maxInboxMessages = 50

// serviceInbox collects messages from the service notifications account as
// updates arrive
type serviceInbox struct {
	mu       sync.Mutex
	messages []entities.ServiceMessage
	notify   chan struct{}
}

func newServiceInbox() *serviceInbox {
	return &serviceInbox{notify: make(chan struct{}, 1)}
}

func (b *serviceInbox) add(msg entities.ServiceMessage) {
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	if len(b.messages) > maxInboxMessages {
		b.messages = b.messages[len(b.messages)-maxInboxMessages:]
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// since returns a copy of the messages dated at or after t with an ID above afterID
func (b *serviceInbox) since(t time.Time, afterID int) []entities.ServiceMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []entities.ServiceMessage
	for _, m := range b.messages {
		if m.ID > afterID && !m.Date.Before(t) {
			out = append(out, m)
		}
	}
	return out
}

// handler feeds incoming updates into the inbox
func (b *serviceInbox) handler() telegram.UpdateHandler {
	return telegram.UpdateHandlerFunc(func(_ context.Context, u tg.UpdatesClass) error {
		switch u := u.(type) {
		case *tg.UpdateShortMessage:
			if !u.Out && u.UserID == entities.ServiceNotificationsUserID {
				b.add(entities.ServiceMessage{ID: u.ID, Text: u.Message, Date: time.Unix(int64(u.Date), 0)})
			}
		case *tg.UpdateShort:
			b.handleUpdate(u.Update)
		case *tg.Updates:
			for _, upd := range u.Updates {
				b.handleUpdate(upd)
			}
		case *tg.UpdatesCombined:
			for _, upd := range u.Updates {
				b.handleUpdate(upd)
			}
		}
		return nil
	})
}

func (b *serviceInbox) handleUpdate(u tg.UpdateClass) {
	upd, ok := u.(*tg.UpdateNewMessage)
	if !ok {
		return
	}
	if msg, ok := serviceMessage(upd.Message); ok {
		b.add(msg)
	}
}

// serviceMessage converts an incoming message from the service notifications account
func serviceMessage(m tg.MessageClass) (entities.ServiceMessage, bool) {
	msg, ok := m.(*tg.Message)
	if !ok || msg.Out {
		return entities.ServiceMessage{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok || peer.UserID != entities.ServiceNotificationsUserID {
		return entities.ServiceMessage{}, false
	}
	return entities.ServiceMessage{
		ID:   msg.ID,
		Text: msg.Message,
		Date: time.Unix(int64(msg.Date), 0),
	}, true
}
