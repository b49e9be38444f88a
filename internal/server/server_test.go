package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/hub"
	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/state"
	"github.com/john/orchid/internal/subscription"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []bus.Event
	err    error
}

func (f *fakePublisher) Publish(ev bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type fixture struct {
	srv  *Server
	hub  *hub.Hub
	subs *subscription.Manager
	pub  *fakePublisher
}

func newFixture(t *testing.T, staticDir string) *fixture {
	t.Helper()
	subs := subscription.NewManager(nil)
	h := hub.New(subs, state.NewMemoryHistory(30), state.NewMemoryLayouts(), hub.WithBackfill(0))
	pub := &fakePublisher{}
	return &fixture{
		srv:  New(":0", h, subs, pub, staticDir),
		hub:  h,
		subs: subs,
		pub:  pub,
	}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_Broadcast(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/broadcast?message=hello%20there", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, bus.KindRaw, f.pub.events[0].Kind)
	assert.Equal(t, "hello there", string(f.pub.events[0].Payload))

	rec = f.do(http.MethodGet, "/broadcast", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.pub.err = errors.New("bus closed")
	rec = f.do(http.MethodGet, "/broadcast?message=x", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GlobalSubscriptions(t *testing.T) {
	f := newFixture(t, "")

	assert.JSONEq(t, `[]`, f.do(http.MethodGet, "/global_subs", "").Body.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/global_sub?username=Orchid", "").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/global_sub?username=xqc", "").Code)
	assert.JSONEq(t, `["orchid","xqc"]`, f.do(http.MethodGet, "/global_subs", "").Body.String())
	assert.Equal(t, []string{subscription.Global}, f.subs.Subscribers("orchid"))

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/global_unsub?username=orchid", "").Code)
	assert.JSONEq(t, `["xqc"]`, f.do(http.MethodGet, "/global_subs", "").Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/global_sub", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/global_sub?username=%23", "").Code)
}

func TestServer_Layout(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/layout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"layout_items":[]}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/layout", `{"action":"add","item":{"type":"PkTeamLayout","id":3}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, bus.KindLayout, f.pub.events[0].Kind)

	var u layout.Update
	require.NoError(t, f.pub.events[0].Decode(&u))
	assert.Equal(t, layout.ActionAdd, u.Action)
	assert.Equal(t, int64(3), u.Item.ID)

	// the hub applies it once the bus delivers the event
	require.NoError(t, f.hub.HandleEvent(context.Background(), f.pub.events[0]))
	rec = f.do(http.MethodGet, "/layout", "")
	assert.JSONEq(t, `{"layout_items":[{"type":"PkTeamLayout","id":3}]}`, rec.Body.String())
}

func TestServer_LayoutRejectsInvalid(t *testing.T) {
	f := newFixture(t, "")

	for _, body := range []string{
		`{"action":"explode"}`,
		`{"action":"add"}`,
		`{"action":"remove"}`,
		`{"action":"add","item":{"type":"Unknown","id":1}}`,
		`not json`,
	} {
		rec := f.do(http.MethodPost, "/layout", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, f.pub.events)
}

func TestServer_Stats(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.subs.Subscribe("orchid", subscription.Global))

	rec := f.do(http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"clients":0,"channels":["orchid"],"pinned":[],"sent":0,"dropped":0}`, rec.Body.String())
}

func TestServer_StaticAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>overlay</h1>"), 0o644))

	f := newFixture(t, dir)
	rec := f.do(http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "overlay")
}

func TestServer_WebSocket(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"layout_items":[]}`, string(data))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))

	f.hub.Close()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
