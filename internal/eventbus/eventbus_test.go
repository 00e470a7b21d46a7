package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	bus := New()
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Publish(context.Background(), Event{Kind: KindInstanceStarted, NodeID: "node-1"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, KindInstanceStarted, a.events[0].Kind)
}

func TestHTTPNotifierPostsEventEnvelope(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		received <- "ok"
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "tok")
	n.Notify(context.Background(), Event{Kind: KindChannelClosed, NodeID: "node-1"})

	select {
	case <-received:
	default:
		t.Fatal("HTTP notifier did not deliver synchronously")
	}
}
