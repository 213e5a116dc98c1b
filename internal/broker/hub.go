package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/curibio/cloud-core/internal/auth"
)

// DefaultMailboxCap bounds per-subscriber memory; a slow consumer loses
// oldest messages first and recovers on SSE reconnect.
const DefaultMailboxCap = 64

var ErrNotConnected = errors.New("account is not connected")

var droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "event_broker",
	Name:      "dropped_messages_total",
	Help:      "Messages dropped from full subscriber mailboxes.",
})

// Message is one SSE event to deliver.
type Message struct {
	Event string
	Data  string
}

// Mailbox buffers messages for one connected account and tracks the
// token presented at connect time.
type Mailbox struct {
	msgs chan Message

	mu           sync.Mutex
	claims       *auth.Claims
	tokenUpdated chan struct{}
}

func newMailbox(claims *auth.Claims, cap int) *Mailbox {
	return &Mailbox{
		msgs:         make(chan Message, cap),
		claims:       claims,
		tokenUpdated: make(chan struct{}, 1),
	}
}

// C is the delivery channel the SSE loop reads from.
func (m *Mailbox) C() <-chan Message {
	return m.msgs
}

// push enqueues, evicting the oldest message when full.
func (m *Mailbox) push(msg Message) {
	for {
		select {
		case m.msgs <- msg:
			return
		default:
			select {
			case <-m.msgs:
				droppedMessages.Inc()
			default:
			}
		}
	}
}

// TokenExpired reports whether the current token's expiry has passed.
func (m *Mailbox) TokenExpired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims.ExpiresAt != nil && now.After(m.claims.ExpiresAt.Time)
}

func (m *Mailbox) setClaims(claims *auth.Claims) {
	m.mu.Lock()
	m.claims = claims
	m.mu.Unlock()
	select {
	case m.tokenUpdated <- struct{}{}:
	default:
	}
}

// TokenUpdated signals once per token refresh.
func (m *Mailbox) TokenUpdated() <-chan struct{} {
	return m.tokenUpdated
}

// Hub maps connected account ids to their mailboxes.
type Hub struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*Mailbox
	mailboxCap int
}

func NewHub(mailboxCap int) *Hub {
	if mailboxCap <= 0 {
		mailboxCap = DefaultMailboxCap
	}
	return &Hub{subs: make(map[uuid.UUID]*Mailbox), mailboxCap: mailboxCap}
}

// Add registers a connection, displacing any previous mailbox for the
// same account.
func (h *Hub) Add(claims *auth.Claims) *Mailbox {
	mb := newMailbox(claims, h.mailboxCap)
	h.mu.Lock()
	h.subs[claims.AccountID()] = mb
	h.mu.Unlock()
	return mb
}

// Remove drops the mailbox, unless a newer connection already replaced it.
func (h *Hub) Remove(accountID uuid.UUID, mb *Mailbox) {
	h.mu.Lock()
	if h.subs[accountID] == mb {
		delete(h.subs, accountID)
	}
	h.mu.Unlock()
}

// UpdateToken swaps the token on a live connection so the per-dispatch
// expiry check passes again.
func (h *Hub) UpdateToken(claims *auth.Claims) error {
	h.mu.Lock()
	mb, ok := h.subs[claims.AccountID()]
	h.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	mb.setClaims(claims)
	return nil
}

// Send delivers to one account if connected.
func (h *Hub) Send(accountID uuid.UUID, msg Message) {
	h.mu.Lock()
	mb := h.subs[accountID]
	h.mu.Unlock()
	if mb != nil {
		mb.push(msg)
	}
}
