package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// subscriberQueue bounds the quotes waiting for one subscriber callback.
const subscriberQueue = 64

var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	BrokerSymbol string `json:"brokerSymbol"`
	AccountID    string `json:"accountId"`
	Dropped      uint64 `json:"dropped"`
}

type subscription struct {
	id         string
	canonical  string
	broker     string
	accountID  string
	generation uint64
	conn       common.Connection
	listenerID common.ListenerID

	queue    chan Quote
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
	onUpdate func(Quote)
}

// enqueue never blocks: a full queue loses its oldest quote.
func (s *subscription) enqueue(q Quote) (dropped bool) {
	for {
		select {
		case s.queue <- q:
			return dropped
		default:
		}
		select {
		case <-s.queue:
			dropped = true
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *subscription) run(log zerolog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case q := <-s.queue:
			s.deliver(q, log)
		}
	}
}

func (s *subscription) deliver(q Quote, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subscription", s.id).Interface("panic", r).Msg("price callback panicked")
		}
	}()
	s.onUpdate(q)
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Subscribe resolves symbol, registers a gateway listener for its broker
// symbol and calls onUpdate for every streamed quote. Each subscriber has
// its own bounded queue and goroutine so a slow callback only delays itself.
func (pc *PriceCache) Subscribe(ctx context.Context, symbol string, onUpdate func(Quote)) (string, error) {
	if onUpdate == nil {
		return "", errors.New("market: nil price callback")
	}
	sess, err := pc.source.Active()
	if err != nil {
		return "", err
	}
	gen := pc.resolver.BindAccount(sess.AccountID)
	res, err := pc.resolver.Resolve(ctx, sess.AccountID, sess.Conn, symbol)
	if err != nil {
		return "", err
	}
	pc.store(newQuote(res.Canonical, res.BrokerSymbol, res.Price, pc.now()), gen)

	sub := &subscription{
		id:         fmt.Sprintf("%s-%d", res.Canonical, pc.subSeq.Add(1)),
		canonical:  res.Canonical,
		broker:     res.BrokerSymbol,
		accountID:  sess.AccountID,
		generation: gen,
		conn:       sess.Conn,
		queue:      make(chan Quote, subscriberQueue),
		done:       make(chan struct{}),
		onUpdate:   onUpdate,
	}
	lid, err := sess.Conn.AddSynchronizationListener(common.PriceListenerFunc(func(p common.Price) {
		pc.onPrice(sub, p)
	}))
	if err != nil {
		return "", fmt.Errorf("add price listener: %w", err)
	}
	sub.listenerID = lid

	pc.subsMu.Lock()
	pc.subs[sub.id] = sub
	n := len(pc.subs)
	pc.subsMu.Unlock()
	pc.metrics.SetSubscriptions(n)

	go sub.run(pc.log)
	pc.log.Info().Str("subscription", sub.id).Str("broker_symbol", sub.broker).Msg("price subscription added")
	return sub.id, nil
}

func (pc *PriceCache) onPrice(sub *subscription, p common.Price) {
	if !strings.EqualFold(p.Symbol, sub.broker) || !p.HasQuote() {
		return
	}
	select {
	case <-sub.done:
		return
	default:
	}
	q := newQuote(sub.canonical, sub.broker, p, pc.now())
	pc.store(q, sub.generation)
	if sub.enqueue(q) {
		total := pc.dropped.Add(1)
		pc.metrics.SubscriberDropped()
		pc.bus.Publish(events.EventSubscriberLagged, events.SubscriberLag{
			SubscriptionID: sub.id, Symbol: sub.canonical, Dropped: sub.dropped.Load(),
		})
		pc.log.Warn().Str("subscription", sub.id).Uint64("dropped_total", total).Msg("subscriber queue full, dropped oldest quote")
	}
}

// Unsubscribe removes the gateway listener and the local record.
func (pc *PriceCache) Unsubscribe(id string) error {
	pc.subsMu.Lock()
	sub, ok := pc.subs[id]
	delete(pc.subs, id)
	n := len(pc.subs)
	pc.subsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	pc.metrics.SetSubscriptions(n)
	sub.conn.RemoveSynchronizationListener(sub.listenerID)
	sub.stop()
	return nil
}

// UnsubscribeAll drops every subscription, e.g. on account switch.
func (pc *PriceCache) UnsubscribeAll() int {
	pc.subsMu.Lock()
	subs := pc.subs
	pc.subs = make(map[string]*subscription)
	pc.subsMu.Unlock()
	pc.metrics.SetSubscriptions(0)
	for _, sub := range subs {
		sub.conn.RemoveSynchronizationListener(sub.listenerID)
		sub.stop()
	}
	return len(subs)
}

// Subscriptions lists active subscriptions.
func (pc *PriceCache) Subscriptions() []SubscriptionInfo {
	pc.subsMu.Lock()
	defer pc.subsMu.Unlock()
	out := make([]SubscriptionInfo, 0, len(pc.subs))
	for _, s := range pc.subs {
		out = append(out, SubscriptionInfo{
			ID: s.id, Symbol: s.canonical, BrokerSymbol: s.broker, AccountID: s.accountID, Dropped: s.dropped.Load(),
		})
	}
	return out
}
