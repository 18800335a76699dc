package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"collabtext/internal/collab"
)

func newBareSession(t *testing.T, srv *Server, docID string) *session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &session{
		srv:     srv,
		docID:   docID,
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int]collab.ServerRecord),
		gapWait: gapWait,
	}
}

// received decodes the next n queued messages.
func received(t *testing.T, c *session, n int) []Message {
	t.Helper()
	var out []Message
	for len(out) < n {
		select {
		case data := <-c.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatal(err)
			}
			out = append(out, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d messages, want %d", len(out), n)
		}
	}
	return out
}

func revisions(msgs []Message) []int {
	var out []int
	for _, m := range msgs {
		if m.Record != nil {
			out = append(out, m.Record.Revision)
		}
	}
	return out
}

func TestSessionReordersRecords(t *testing.T) {
	c := newBareSession(t, &Server{logger: slog.Default()}, "d")
	c.start(Message{Action: ActionSnapshot}, 5)
	c.push(collab.ServerRecord{Revision: 7})
	c.push(collab.ServerRecord{Revision: 6})
	c.push(collab.ServerRecord{Revision: 6})
	c.push(collab.ServerRecord{Revision: 4})

	msgs := received(t, c, 3)
	if msgs[0].Action != ActionSnapshot {
		t.Errorf("first message = %q, want snapshot", msgs[0].Action)
	}
	if got := fmt.Sprint(revisions(msgs)); got != "[6 7]" {
		t.Errorf("delivered revisions %s, want [6 7]", got)
	}
	select {
	case data := <-c.send:
		t.Errorf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
	if c.gapTimer != nil || len(c.pending) != 0 {
		t.Errorf("pending %v after the gap closed", c.pending)
	}
}

func TestSessionHoldsRecordsUntilStarted(t *testing.T) {
	c := newBareSession(t, &Server{logger: slog.Default()}, "d")
	c.push(collab.ServerRecord{Revision: 3})
	c.push(collab.ServerRecord{Revision: 2})
	c.start(Message{Action: ActionSnapshot}, 2)

	msgs := received(t, c, 2)
	if msgs[0].Action != ActionSnapshot {
		t.Errorf("first message = %q, want snapshot", msgs[0].Action)
	}
	if got := fmt.Sprint(revisions(msgs)); got != "[3]" {
		t.Errorf("delivered revisions %s, want [3]", got)
	}
}

func TestSessionFillsGapFromStore(t *testing.T) {
	st := newTestStack(t, "")
	if code, body := do(t, http.MethodPost, st.ts.URL+"/documents/gap", `{"text":""}`); code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, body)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cs := fmt.Sprintf(`[[0,%d],"%d"]`, i-1, i)
		if i == 0 {
			cs = `["0"]`
		}
		body := fmt.Sprintf(`{"targetRevision":%d,"changeset":%s,"idempotencyId":"id-%d"}`, i, cs, i)
		if code, resp := do(t, http.MethodPost, st.ts.URL+"/documents/gap/records", body); code != http.StatusCreated {
			t.Fatalf("submit %d = %d %s", i, code, resp)
		}
	}
	snap, err := st.svc.Snapshot(ctx, "gap", 2)
	if err != nil || len(snap.Records) != 1 {
		t.Fatalf("Snapshot() = %v, %v", snap, err)
	}

	c := newBareSession(t, st.srv, "gap")
	c.gapWait = 10 * time.Millisecond
	c.start(Message{Action: ActionSnapshot}, 1)
	c.push(snap.Records[0])

	msgs := received(t, c, 3)
	if got := fmt.Sprint(revisions(msgs)); got != "[2 3]" {
		t.Errorf("delivered revisions %s, want [2 3]", got)
	}
}
