package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/doorstep/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribeCancel(t *testing.T) {
	hub := NewHub(testLogger())

	_, cancel1 := hub.Subscribe("u1")
	_, cancel2 := hub.Subscribe("u2")

	if got := hub.SubscriberCount(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	cancel1()
	if got := hub.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber after cancel, got %d", got)
	}

	cancel2()
	// Should not panic
	cancel2()

	if got := hub.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
}

func TestPublishIsScopedToUser(t *testing.T) {
	hub := NewHub(testLogger())

	alice1, cancelA1 := hub.Subscribe("alice")
	defer cancelA1()
	alice2, cancelA2 := hub.Subscribe("alice")
	defer cancelA2()
	bob, cancelB := hub.Subscribe("bob")
	defer cancelB()

	hub.Publish("alice", NewMessage("session", "paused", "s-1", map[string]any{"doors": 3}))

	for _, ch := range []<-chan Message{alice1, alice2} {
		select {
		case got := <-ch:
			if got.Type != "session_paused" {
				t.Errorf("expected type session_paused, got %s", got.Type)
			}
			if got.ID != "s-1" {
				t.Errorf("expected id s-1, got %s", got.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case got := <-bob:
		t.Fatalf("bob received %v", got)
	default:
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	hub := NewHub(testLogger())
	a, cancelA := hub.Subscribe("a")
	defer cancelA()
	b, cancelB := hub.Subscribe("b")
	defer cancelB()

	hub.Broadcast(NewMessage("achievement", "synced", "", nil))

	for _, ch := range []<-chan Message{a, b} {
		select {
		case got := <-ch:
			if got.Entity != "achievement" {
				t.Errorf("expected entity achievement, got %s", got.Entity)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestPublishFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	ch, cancel := hub.Subscribe("u1")
	defer cancel()

	for i := 0; i < sendBufferSize; i++ {
		hub.Publish("u1", NewMessage("address", "created", "", nil))
	}
	// This should drop the message, not panic or block
	hub.Publish("u1", NewMessage("address", "dropped", "", nil))

	count := 0
	for {
		select {
		case msg := <-ch:
			if msg.Action == "dropped" {
				t.Error("expected overflow message to be dropped")
			}
			count++
		default:
			if count != sendBufferSize {
				t.Errorf("expected %d messages, got %d", sendBufferSize, count)
			}
			return
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub(testLogger())
	ch, cancel := hub.Subscribe("u1")
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after cancel must not panic.
	hub.Publish("u1", NewMessage("session", "ended", "", nil))
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := hub.Subscribe("u1")
			hub.Publish("u1", NewMessage("test", "concurrent", "", nil))
			for {
				select {
				case <-ch:
				default:
					cancel()
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.SubscriberCount(); got != 0 {
		t.Errorf("expected 0 subscribers after concurrent test, got %d", got)
	}
}

func TestHandleWebSocketStreamsUserMessages(t *testing.T) {
	hub := NewHub(testLogger())
	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid := r.URL.Query().Get("user"); uid != "" {
				r = r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{UserID: uid}))
			}
			next.ServeHTTP(w, r)
		})
	}
	srv := httptest.NewServer(withUser(HandleWebSocket(hub, nil, testLogger())))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=alice"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish("bob", NewMessage("session", "started", "s-bob", nil))
	hub.Publish("alice", NewMessage("session", "started", "s-alice", nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "s-alice" {
		t.Errorf("expected s-alice, got %s", got.ID)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", resp.StatusCode)
	}
}
