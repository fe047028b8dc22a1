// Package trie implements component B: the subscription trie, a
// per-level tree with literal children plus dedicated '+'/'#' slots,
// run behind a single coordinator goroutine reached by typed messages
// per §5's recommended design ("a coordinator task per shared
// structure ... removes lock contention from the hot path").
package trie

import "github.com/pyr33x/mqttd/internal/topicmatch"

// Subscriber is one (session, granted qos) pair terminating at a trie
// node.
type Subscriber struct {
	SessionID string
	QoSMax    byte
}

// Match is a matched subscriber returned by MatchTopic, qos already
// reduced to the maximum across that session's matching filters
// (§4.B: "a session subscribed by multiple filters to the same topic
// receives the message once, with qos_max = the maximum among
// matching subscriptions").
type Match struct {
	SessionID string
	QoSMax    byte
}

type node struct {
	children    map[string]*node
	plus        *node
	hash        map[string]byte // sessionID -> qosMax, terminal '#' subscribers
	subscribers map[string]byte // sessionID -> qosMax, terminal subscribers at this exact level
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// filterKey identifies a (sessionID, filter) subscription for removal
// and idempotent re-subscribe.
type filterKey struct {
	sessionID string
	filter    string
}

// Trie is the coordinator-owned subscription tree. All mutation and
// lookup happens on the owner goroutine; callers only ever touch
// channels.
type Trie struct {
	reqs chan any
	stop chan struct{}
}

type subscribeReq struct {
	sessionID string
	filter    string
	qosMax    byte
	done      chan struct{}
}

type unsubscribeReq struct {
	sessionID string
	filter    string
	done      chan struct{}
}

type removeSessionReq struct {
	sessionID string
	done      chan struct{}
}

type matchReq struct {
	topic string
	reply chan []Match
}

type countReq struct {
	reply chan int
}

// New starts the trie coordinator goroutine and returns a handle.
func New() *Trie {
	t := &Trie{
		reqs: make(chan any, 64),
		stop: make(chan struct{}),
	}
	go t.run()
	return t
}

// Close stops the coordinator goroutine.
func (t *Trie) Close() {
	close(t.stop)
}

func (t *Trie) run() {
	root := newNode()
	// subs tracks (sessionID, filter) -> true for invariant checks and
	// idempotent re-subscribe/unsubscribe.
	subs := make(map[filterKey]bool)

	for {
		select {
		case <-t.stop:
			return
		case raw := <-t.reqs:
			switch req := raw.(type) {
			case subscribeReq:
				insert(root, topicmatch.SplitLevels(req.filter), req.sessionID, req.qosMax)
				subs[filterKey{req.sessionID, req.filter}] = true
				close(req.done)
			case unsubscribeReq:
				remove(root, topicmatch.SplitLevels(req.filter), req.sessionID)
				delete(subs, filterKey{req.sessionID, req.filter})
				close(req.done)
			case removeSessionReq:
				for k := range subs {
					if k.sessionID == req.sessionID {
						remove(root, topicmatch.SplitLevels(k.filter), req.sessionID)
						delete(subs, k)
					}
				}
				close(req.done)
			case matchReq:
				req.reply <- matchTopic(root, topicmatch.SplitLevels(req.topic))
			case countReq:
				req.reply <- len(subs)
			}
		}
	}
}

// Subscribe inserts (sessionID, filter, qosMax), replacing any
// existing subscription for the same pair (idempotent, qos updated).
func (t *Trie) Subscribe(sessionID, filter string, qosMax byte) {
	done := make(chan struct{})
	t.reqs <- subscribeReq{sessionID, filter, qosMax, done}
	<-done
}

// Unsubscribe removes (sessionID, filter) and prunes empty nodes.
func (t *Trie) Unsubscribe(sessionID, filter string) {
	done := make(chan struct{})
	t.reqs <- unsubscribeReq{sessionID, filter, done}
	<-done
}

// RemoveSession purges every subscription held by sessionID.
func (t *Trie) RemoveSession(sessionID string) {
	done := make(chan struct{})
	t.reqs <- removeSessionReq{sessionID, done}
	<-done
}

// MatchTopic returns one entry per subscribed session whose filter(s)
// match name, deduplicated with qosMax = max across matching filters.
func (t *Trie) MatchTopic(name string) []Match {
	reply := make(chan []Match, 1)
	t.reqs <- matchReq{name, reply}
	return <-reply
}

// Count returns the number of distinct (sessionID, filter) pairs held.
func (t *Trie) Count() int {
	reply := make(chan int, 1)
	t.reqs <- countReq{reply}
	return <-reply
}

func insert(n *node, levels []string, sessionID string, qosMax byte) {
	level := levels[0]
	rest := levels[1:]

	switch level {
	case "#":
		if n.hash == nil {
			n.hash = make(map[string]byte)
		}
		n.hash[sessionID] = qosMax
		return
	case "+":
		if n.plus == nil {
			n.plus = newNode()
		}
		n = n.plus
	default:
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}

	if len(rest) == 0 {
		if n.subscribers == nil {
			n.subscribers = make(map[string]byte)
		}
		n.subscribers[sessionID] = qosMax
		return
	}
	insert(n, rest, sessionID, qosMax)
}

func remove(n *node, levels []string, sessionID string) bool {
	if n == nil {
		return true
	}
	level := levels[0]
	rest := levels[1:]

	switch level {
	case "#":
		delete(n.hash, sessionID)
		return len(n.hash) == 0
	case "+":
		if n.plus == nil {
			return true
		}
		if len(rest) == 0 {
			delete(n.plus.subscribers, sessionID)
		} else {
			remove(n.plus, rest, sessionID)
		}
		if isEmpty(n.plus) {
			n.plus = nil
		}
		return false
	default:
		child, ok := n.children[level]
		if !ok {
			return false
		}
		if len(rest) == 0 {
			delete(child.subscribers, sessionID)
		} else {
			remove(child, rest, sessionID)
		}
		if isEmpty(child) {
			delete(n.children, level)
		}
		return false
	}
}

func isEmpty(n *node) bool {
	if n == nil {
		return true
	}
	return len(n.children) == 0 && n.plus == nil && len(n.hash) == 0 && len(n.subscribers) == 0
}

func matchTopic(root *node, nameLevels []string) []Match {
	acc := make(map[string]byte)
	descend(root, nameLevels, acc, true)

	out := make([]Match, 0, len(acc))
	for sid, qos := range acc {
		out = append(out, Match{SessionID: sid, QoSMax: qos})
	}
	return out
}

// descend walks literal, '+' and '#' branches against the remaining
// name levels, folding results into acc with a max-qos merge. firstLevel
// tracks whether we're still matching the topic's first level, to
// apply the $SYS carve-out ("+ or # at position 0 must not match
// topics starting with $").
func descend(n *node, levels []string, acc map[string]byte, firstLevel bool) {
	if n == nil {
		return
	}

	reserved := firstLevel && len(levels) > 0 && len(levels[0]) > 0 && levels[0][0] == '$'

	if len(levels) == 0 {
		for sid, qos := range n.subscribers {
			mergeMax(acc, sid, qos)
		}
		// A "#" filed one level up matches zero further levels too
		// (e.g. filter "a/#" matches topic "a").
		for sid, qos := range n.hash {
			mergeMax(acc, sid, qos)
		}
		return
	}

	level, rest := levels[0], levels[1:]

	if child, ok := n.children[level]; ok {
		descend(child, rest, acc, false)
	}

	if !reserved && n.plus != nil {
		descend(n.plus, rest, acc, false)
	}

	if !reserved {
		for sid, qos := range n.hash {
			mergeMax(acc, sid, qos)
		}
	}
}

func mergeMax(acc map[string]byte, sessionID string, qos byte) {
	if cur, ok := acc[sessionID]; !ok || qos > cur {
		acc[sessionID] = qos
	}
}
