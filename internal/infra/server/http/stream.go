package httpserver

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/internal/observability"
)

// Push topics.
const (
	TopicHealth        = "health"
	TopicStrategies    = "strategies"
	TopicPositions     = "positions"
	TopicOrchestration = "orchestration"
	TopicInference     = "inference"
)

const (
	defaultStreamBuffer = 32
	streamWriteTimeout  = 5 * time.Second
)

// Frame is one push message.
type Frame struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Hub fans view snapshots out to websocket clients. It keeps the last frame
// per topic so a new client starts from current state. A slow client loses
// its oldest queued frames, never blocking publishers.
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc
	buffer int

	mu       sync.Mutex
	subs     map[*streamSubscriber]struct{}
	last     map[string][]byte
	shutdown sync.Once
}

type streamSubscriber struct {
	ch   chan []byte
	once sync.Once
}

// NewHub constructs a hub with per-client queue depth buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:    ctx,
		cancel: cancel,
		buffer: buffer,
		subs:   make(map[*streamSubscriber]struct{}),
		last:   make(map[string][]byte),
	}
}

// Publish encodes data under topic and queues it for every client.
func (h *Hub) Publish(topic string, data any) error {
	encoded, err := json.Marshal(Frame{Topic: topic, Data: data})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return nil
	}
	h.last[topic] = encoded
	for sub := range h.subs {
		sub.offer(encoded)
	}
	return nil
}

// Subscribe registers a client. The returned channel is preloaded with the
// latest frame of every topic and is closed by the cancel func or Close.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topics := make([]string, 0, len(h.last))
	for topic := range h.last {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	size := h.buffer
	if len(topics) > size {
		size = len(topics)
	}
	sub := &streamSubscriber{ch: make(chan []byte, size)}
	for _, topic := range topics {
		sub.ch <- h.last[topic]
	}
	if h.ctx.Err() != nil {
		sub.close()
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.shutdown.Do(func() {
		h.cancel()
		h.mu.Lock()
		for sub := range h.subs {
			sub.close()
		}
		h.subs = make(map[*streamSubscriber]struct{})
		h.mu.Unlock()
	})
}

// ServeHTTP upgrades the request and streams frames until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		observability.Log().Error("stream accept failed", observability.F("error", err.Error()))
		return
	}
	defer func() {
		_ = conn.CloseNow()
	}()

	ctx := conn.CloseRead(r.Context())
	frames, cancel := h.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutdown")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

// offer queues frame, evicting the oldest queued frame when full. Callers
// hold the hub lock, so offers to one subscriber never race.
func (s *streamSubscriber) offer(frame []byte) {
	select {
	case s.ch <- frame:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- frame:
	default:
	}
}

func (s *streamSubscriber) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}
