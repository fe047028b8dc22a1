// Package retained implements component C: the retained-message
// store, one coordinator goroutine guarding a topic -> Message map, the
// message-passing coordinator style §5 recommends for shared
// structures.
package retained

import "github.com/pyr33x/mqttd/internal/topicmatch"

// Message is the stored form of a retained PUBLISH.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

type Store struct {
	reqs chan any
	stop chan struct{}
}

type storeReq struct {
	msg  Message
	done chan struct{}
}

type clearReq struct {
	topic string
	done  chan struct{}
}

type deliverReq struct {
	filter string
	reply  chan []Message
}

type countReq struct {
	reply chan int
}

func New() *Store {
	s := &Store{
		reqs: make(chan any, 64),
		stop: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) Close() { close(s.stop) }

func (s *Store) run() {
	byTopic := make(map[string]Message)

	for {
		select {
		case <-s.stop:
			return
		case raw := <-s.reqs:
			switch req := raw.(type) {
			case storeReq:
				if len(req.msg.Payload) == 0 {
					delete(byTopic, req.msg.Topic)
				} else {
					byTopic[req.msg.Topic] = req.msg
				}
				close(req.done)
			case clearReq:
				delete(byTopic, req.topic)
				close(req.done)
			case deliverReq:
				var out []Message
				for topic, msg := range byTopic {
					if topicmatch.Matches(req.filter, topic) {
						out = append(out, msg)
					}
				}
				req.reply <- out
			case countReq:
				req.reply <- len(byTopic)
			}
		}
	}
}

// Store records msg as the retained message for its topic. An empty
// payload deletes the retained entry for that topic (§3 invariant 3,
// §4.C).
func (s *Store) Store(msg Message) {
	done := make(chan struct{})
	s.reqs <- storeReq{msg, done}
	<-done
}

// Clear removes any retained entry for topic.
func (s *Store) Clear(topic string) {
	done := make(chan struct{})
	s.reqs <- clearReq{topic, done}
	<-done
}

// DeliverMatching returns every retained message whose topic matches
// filter, for delivery at subscribe-time (§4.C).
func (s *Store) DeliverMatching(filter string) []Message {
	reply := make(chan []Message, 1)
	s.reqs <- deliverReq{filter, reply}
	return <-reply
}

// Count returns the number of retained topics held.
func (s *Store) Count() int {
	reply := make(chan int, 1)
	s.reqs <- countReq{reply}
	return <-reply
}
