package session

// Store is the Session Store (component D): a coordinator goroutine
// owning the client_id -> *Session directory, serializing lookups and
// takeover decisions the same way internal/trie and internal/retained
// serialize their own shared maps (§5).
type Store struct {
	reqCh chan storeReq
}

type storeOp int

const (
	opTakeOrCreate storeOp = iota
	opGet
	opRemove
	opCount
	opShutdownAll
)

type storeReq struct {
	op       storeOp
	clientID string
	clean    bool
	factory  func() *Session
	reply    chan storeReply
}

type storeReply struct {
	session       *Session
	sessionPresent bool
	ok            bool
	count         int
}

// NewStore starts the Session Store's coordinator goroutine.
func NewStore() *Store {
	st := &Store{reqCh: make(chan storeReq)}
	go st.run()
	return st
}

func (st *Store) run() {
	sessions := make(map[string]*Session)

	for req := range st.reqCh {
		switch req.op {
		case opTakeOrCreate:
			existing, wasPresent := sessions[req.clientID]
			sessionPresent := !req.clean && wasPresent

			if !wasPresent {
				s := req.factory()
				sessions[req.clientID] = s
				req.reply <- storeReply{session: s, sessionPresent: sessionPresent}
				continue
			}

			if existing.IsConnected() {
				// Takeover: the existing connection is always evicted
				// ungracefully, so its will fires regardless of what
				// the new CONNECT does with its own (§4.D, §4.E).
				existing.Kill()
			}

			if req.clean {
				existing.Discard()
				delete(sessions, req.clientID)
				s := req.factory()
				sessions[req.clientID] = s
				req.reply <- storeReply{session: s, sessionPresent: sessionPresent}
				continue
			}

			req.reply <- storeReply{session: existing, sessionPresent: sessionPresent}

		case opGet:
			s, ok := sessions[req.clientID]
			req.reply <- storeReply{session: s, ok: ok}

		case opRemove:
			delete(sessions, req.clientID)
			req.reply <- storeReply{}

		case opCount:
			req.reply <- storeReply{count: len(sessions)}

		case opShutdownAll:
			for id, s := range sessions {
				s.Shutdown()
				delete(sessions, id)
			}
			req.reply <- storeReply{}
		}
	}
}

// TakeOrCreate resolves a CONNECT's client_id against the store:
// creating a brand-new Session if none exists, evicting and replacing
// an existing one if clean is true, or handing back the existing
// (now-offline) Session to resume if clean is false. factory is
// invoked at most once, only when a new Session object is actually
// needed. sessionPresent follows §4.D's formula: !clean && wasPresent.
func (st *Store) TakeOrCreate(clientID string, clean bool, factory func() *Session) (s *Session, sessionPresent bool) {
	reply := make(chan storeReply, 1)
	st.reqCh <- storeReq{op: opTakeOrCreate, clientID: clientID, clean: clean, factory: factory, reply: reply}
	r := <-reply
	return r.session, r.sessionPresent
}

// Get looks up a session by client_id without affecting it.
func (st *Store) Get(clientID string) (*Session, bool) {
	reply := make(chan storeReply, 1)
	st.reqCh <- storeReq{op: opGet, clientID: clientID, reply: reply}
	r := <-reply
	return r.session, r.ok
}

// Remove drops a client_id's entry, used by a Session's onSelfClose
// callback when a clean session tears itself down on its own
// (graceful DISCONNECT or ungraceful close with clean=true, where no
// future resume is possible anyway).
func (st *Store) Remove(clientID string) {
	reply := make(chan storeReply, 1)
	st.reqCh <- storeReq{op: opRemove, clientID: clientID, reply: reply}
	<-reply
}

// Count reports the number of sessions currently tracked, live or
// offline-but-persisted. The clients_connected metric is not derived
// from it; the server counts live connections separately.
func (st *Store) Count() int {
	reply := make(chan storeReply, 1)
	st.reqCh <- storeReq{op: opCount, reply: reply}
	return (<-reply).count
}

// ShutdownAll drives every tracked session through Shutdown (§4.J
// graceful shutdown: "send DISCONNECT semantics to all sessions") and
// empties the directory; it blocks until every session has torn down
// its connection.
func (st *Store) ShutdownAll() {
	reply := make(chan storeReply, 1)
	st.reqCh <- storeReq{op: opShutdownAll, reply: reply}
	<-reply
}
