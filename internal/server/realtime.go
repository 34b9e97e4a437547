package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
)

// Realtime channels and the events published on them.
const (
	ChannelXProbe = "xprobe"
	ChannelApply  = "apply"

	RealtimeEventCrossProbe = "cross-probe"
	RealtimeEventApplied    = "applied"
)

type RealtimeMessage struct {
	Channel       string
	EventType     string
	Command       xprobe.Command
	ApplicationID string
	DiscardedIDs  []string
	Timestamp     time.Time
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for messages on channel until ctx is done or the
// returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, channel string) (<-chan RealtimeMessage, func()) {
	if channel == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(channel, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(channel, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of its channel and reports
// how many received it. Full subscriber buffers drop the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) int {
	if message.Channel == "" || message.EventType == "" {
		return 0
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Channel]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return 0
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	delivered := 0
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
			delivered++
		default:
		}
	}
	return delivered
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(channel string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[channel]; !ok {
		d.subscribers[channel] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[channel][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(channel string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, channel)
		}
	}
	d.mu.Unlock()
}
