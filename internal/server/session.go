package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabtext/internal/bus"
	"collabtext/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = maxBodySize
	sendBuffer     = 256

	// gapWait is how long a session waits for a missing revision to be
	// published before loading it from the store.
	gapWait = 250 * time.Millisecond
)

// session is one websocket client editing one document.
type session struct {
	srv      *Server
	docID    string
	clientID string
	conn     *websocket.Conn
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// Records are sent strictly in revision order. floor is the last
	// revision the client has; records above floor+1 wait in pending until
	// the gap is filled, by the bus or after gapWait from the store.
	mu       sync.Mutex
	started  bool
	floor    int
	pending  map[int]collab.ServerRecord
	gapTimer *time.Timer
	gapWait  time.Duration

	sub       *bus.Subscription
	closeOnce sync.Once
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		srv:      s,
		docID:    docID,
		clientID: uuid.NewString(),
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[int]collab.ServerRecord),
		gapWait:  gapWait,
	}

	// Subscribe before taking the snapshot so no record falls between them.
	sub, err := s.svc.Bus().Subscribe(ctx, docID, sess.push)
	if err != nil {
		cancel()
		s.writeError(w, err)
		return
	}
	sess.sub = sub
	snap, err := s.svc.Snapshot(ctx, docID, 0)
	if err == nil {
		_, err = snap.Head.Text()
	}
	if err != nil {
		sub.Unsubscribe()
		cancel()
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		cancel()
		s.logger.Warn("websocket upgrade failed", "doc", docID, "error", err)
		return
	}
	sess.conn = conn
	s.track(sess)

	text, _ := snap.Head.Text()
	sess.start(Message{
		Action:   ActionSnapshot,
		ClientID: sess.clientID,
		Head:     &snap.Head,
		Text:     text,
	}, snap.Head.Revision)

	go sess.writePump()
	go sess.readPump()
	go sess.watch()
}

// watch closes the session when the bus stops delivering to it, so the
// client reconnects and resynchronizes instead of silently missing records.
func (c *session) watch() {
	select {
	case <-c.sub.Done():
		if c.ctx.Err() != nil {
			return
		}
		c.srv.logger.Warn("record subscription ended", "doc", c.docID, "client", c.clientID)
		c.close()
	case <-c.ctx.Done():
	}
}

// start queues the snapshot and any records newer than it.
func (c *session) start(snapshot Message, revision int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(snapshot)
	c.floor = revision
	c.started = true
	c.flushLocked()
}

// push is the bus handler.
func (c *session) push(rec collab.ServerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started && rec.Revision <= c.floor {
		return
	}
	c.pending[rec.Revision] = rec
	if c.started {
		c.flushLocked()
	}
}

// flushLocked sends pending records that directly extend floor and arms the
// gap timer while later ones are still waiting.
func (c *session) flushLocked() {
	for {
		rec, ok := c.pending[c.floor+1]
		if !ok {
			break
		}
		delete(c.pending, rec.Revision)
		c.floor = rec.Revision
		c.enqueue(Message{Action: ActionRecord, Record: &rec})
	}
	for rev := range c.pending {
		if rev <= c.floor {
			delete(c.pending, rev)
		}
	}
	switch {
	case len(c.pending) == 0 && c.gapTimer != nil:
		c.gapTimer.Stop()
		c.gapTimer = nil
	case len(c.pending) > 0 && c.gapTimer == nil:
		c.gapTimer = time.AfterFunc(c.gapWait, c.fillGap)
	}
}

// fillGap loads the records the bus has not delivered yet from the store.
func (c *session) fillGap() {
	c.mu.Lock()
	c.gapTimer = nil
	from := c.floor
	waiting := len(c.pending)
	c.mu.Unlock()
	if waiting == 0 {
		return
	}

	snap, err := c.srv.svc.Snapshot(c.ctx, c.docID, from)
	if err == nil && snap.Tail.Revision > from {
		err = &collab.ReconciliationError{
			Op:             "fill record gap",
			TargetRevision: from,
			HeadRevision:   snap.Head.Revision,
			TailRevision:   snap.Tail.Revision,
			Err:            collab.ErrHistoryCompacted,
		}
	}
	if err != nil {
		if c.ctx.Err() == nil {
			c.srv.logger.Warn("cannot fill record gap, disconnecting", "doc", c.docID, "client", c.clientID, "after", from, "error", err)
			c.close()
		}
		return
	}
	c.srv.logger.Debug("filled record gap from store", "doc", c.docID, "after", from, "records", len(snap.Records))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range snap.Records {
		if rec.Revision > c.floor {
			c.pending[rec.Revision] = rec
		}
	}
	c.flushLocked()
}

// enqueue hands msg to the write pump. A client that cannot keep up is
// disconnected.
func (c *session) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.srv.logger.Error("encoding message", "doc", c.docID, "action", msg.Action, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.srv.logger.Warn("client too slow, disconnecting", "doc", c.docID, "client", c.clientID)
		go c.close()
	}
}

func (c *session) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
		c.mu.Lock()
		if c.gapTimer != nil {
			c.gapTimer.Stop()
			c.gapTimer = nil
		}
		c.mu.Unlock()
		if c.conn != nil {
			c.conn.Close()
			c.srv.untrack(c)
		}
	})
}

func (c *session) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.logger.Info("client disconnected", "doc", c.docID, "client", c.clientID, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError(err)
			continue
		}
		c.handle(msg)
	}
}

func (c *session) handle(msg Message) {
	if msg.Action != ActionSubmit || msg.Submitted == nil {
		c.enqueue(Message{Action: ActionError, Error: "unknown action " + msg.Action, Code: "invalid"})
		return
	}
	sub := *msg.Submitted
	if sub.AuthorID == "" {
		sub.AuthorID = c.clientID
	}
	res, err := c.srv.svc.Submit(c.ctx, c.docID, sub)
	if err != nil {
		c.replyError(err)
		return
	}
	c.enqueue(Message{Action: ActionAck, Record: &res.Record, Result: res.Type})
}

func (c *session) replyError(err error) {
	_, code := classify(err)
	c.enqueue(Message{Action: ActionError, Error: err.Error(), Code: code})
}

func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
