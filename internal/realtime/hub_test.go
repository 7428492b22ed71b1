package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

func TestHub_ProfileChangedFiltersByMode(t *testing.T) {
	h := NewHub(nil)

	live := h.Subscribe("u1", false)
	sandbox := h.Subscribe("u1", true)
	other := h.Subscribe("u2", false)

	h.ProfileChanged("u1", model.Profile{ID: "u1", Tokens: 100}, false)

	select {
	case m := <-live.C():
		assert.Equal(t, MessageProfile, m.Type)
		assert.Equal(t, int64(100), m.Profile.Tokens)
	default:
		t.Fatal("live subscriber got nothing")
	}
	assert.Empty(t, sandbox.C())
	assert.Empty(t, other.C())

	h.Unsubscribe(live)
	h.Unsubscribe(sandbox)
	assert.Zero(t, h.Subscribers("u1"))
	assert.Equal(t, 1, h.Subscribers("u2"))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	h.Subscribe("u1", false)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			h.ProfileChanged("u1", model.Profile{ID: "u1", Tokens: int64(i)}, false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ProfileChanged blocked on a full subscriber")
	}
}

func TestHub_ServeWS(t *testing.T) {
	h := NewHub(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, Session{
			UserID:   "u1",
			Location: time.UTC,
			Initial:  &model.Profile{ID: "u1", Tokens: 5},
		})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, MessageProfile, m.Type)
	assert.Equal(t, int64(5), m.Profile.Tokens)

	require.Eventually(t, func() bool { return h.Subscribers("u1") == 1 }, time.Second, 10*time.Millisecond)
	h.ProfileChanged("u1", model.Profile{ID: "u1", Tokens: 105}, false)

	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, int64(105), m.Profile.Tokens)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Subscribers("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
