package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Meta identifies the login session and tab behind a subscriber.
type Meta struct {
	SessionID string
	TabID     string
}

// Hub manages stream subscriptions by topic. Topics are user ids.
type Hub struct {
	clients   map[string]map[Subscriber]Meta
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	evict     chan eviction
	count     chan countRequest
}

// message couples payload with topic.
type message struct {
	topic   string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	topic  string
	client Subscriber
	meta   Meta
}

type eviction struct {
	topic    string
	match    func(Meta) bool
	farewell []byte
	done     chan int
}

type countRequest struct {
	topic string
	reply chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]Meta),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		evict:     make(chan eviction),
		count:     make(chan countRequest),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]Meta)
			}
			h.clients[sub.topic][sub.client] = sub.meta
		case sub := <-h.unreg:
			h.remove(sub.topic, sub.client)
		case msg := <-h.broadcast:
			for c := range h.clients[msg.topic] {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					h.remove(msg.topic, c)
				}
			}
		case ev := <-h.evict:
			evicted := 0
			for c, meta := range h.clients[ev.topic] {
				if ev.match != nil && !ev.match(meta) {
					continue
				}
				if len(ev.farewell) > 0 {
					_ = c.Send(ev.farewell)
				}
				c.Close()
				h.remove(ev.topic, c)
				evicted++
			}
			ev.done <- evicted
		case req := <-h.count:
			req.reply <- len(h.clients[req.topic])
		}
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a topic stream.
func (h *Hub) Register(topic string, client Subscriber, meta Meta) {
	h.register <- subscription{topic: topic, client: client, meta: meta}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	h.unreg <- subscription{topic: topic, client: client}
}

// Broadcast sends payload to all topic clients.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.broadcast <- message{topic: topic, payload: payload}
}

// Evict closes every client of topic whose Meta satisfies match, sending farewell
// first when it is non-empty. A nil match evicts all. It returns the number closed.
func (h *Hub) Evict(topic string, match func(Meta) bool, farewell []byte) int {
	done := make(chan int, 1)
	h.evict <- eviction{topic: topic, match: match, farewell: farewell, done: done}
	return <-done
}

// Len reports how many clients follow topic.
func (h *Hub) Len(topic string) int {
	reply := make(chan int, 1)
	h.count <- countRequest{topic: topic, reply: reply}
	return <-reply
}
