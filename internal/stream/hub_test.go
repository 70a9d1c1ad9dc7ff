package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub, tenantID, memberID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, tenantID, memberID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeedReceivesTenantEvents(t *testing.T) {
	h := NewHub(8)
	conn := dial(t, h, "acme", "")
	require.Eventually(t, func() bool { return h.Subscribers("acme") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Deliver(context.Background(), nil, model.EventBody{Event: model.EventPointsRedeemed, TenantID: "other"}))
	require.NoError(t, h.Deliver(context.Background(), nil, model.EventBody{
		Event: model.EventPointsAwarded, TenantID: "acme", MemberID: "m1", Amount: 100, IdempotencyKey: "1-1",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.EventBody
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EventPointsAwarded, got.Event)
	assert.Equal(t, int64(100), got.Amount)
}

func TestMemberFilter(t *testing.T) {
	h := NewHub(8)
	conn := dial(t, h, "acme", "m2")
	require.Eventually(t, func() bool { return h.Subscribers("acme") == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, h.Deliver(ctx, nil, model.EventBody{Event: model.EventPointsAwarded, TenantID: "acme", MemberID: "m1"}))
	require.NoError(t, h.Deliver(ctx, nil, model.EventBody{Event: model.EventPointsExpired, TenantID: "acme", MemberID: "m2"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.EventBody
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "m2", got.MemberID)
	assert.Equal(t, model.EventPointsExpired, got.Event)
}

func TestClosedPeerIsRemoved(t *testing.T) {
	h := NewHub(8)
	conn := dial(t, h, "acme", "")
	require.Eventually(t, func() bool { return h.Subscribers("acme") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Subscribers("acme") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, h.Deliver(context.Background(), nil, model.EventBody{TenantID: "acme"}))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewHub(1)
	c := &client{tenantID: "acme", send: make(chan []byte, 1)}
	h.add(c)

	ctx := context.Background()
	require.NoError(t, h.Deliver(ctx, nil, model.EventBody{TenantID: "acme"}))
	require.NoError(t, h.Deliver(ctx, nil, model.EventBody{TenantID: "acme"}))
	assert.Equal(t, 0, h.Subscribers("acme"))
}
