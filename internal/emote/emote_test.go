package emote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const globalBody = `{
	"default_sets": [3],
	"sets": {
		"3": {"id": 3, "title": "Global", "emoticons": [
			{"id": 9, "name": "ZreknarF", "modifier_flags": 0, "urls": {"4": "//cdn/9/4", "1": "//cdn/9/1", "2": "//cdn/9/2"}}
		]},
		"77": {"id": 77, "title": "Supporter", "emoticons": [
			{"id": 70, "name": "SupporterHype", "modifier_flags": 0, "urls": {"1": "//cdn/70/1"}}
		]}
	},
	"users": {"VipUser": ["77"]}
}`

const roomBody = `{"sets": {"500": {"id": 500, "title": "orchid", "emoticons": [
	{"id": 42, "name": "OrchidWave", "modifier_flags": 8, "urls": {"1": "//cdn/42/1"}}
]}}}`

type ffzServer struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *ffzServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newFFZServer(t *testing.T) (*httptest.Server, *ffzServer) {
	t.Helper()
	state := &ffzServer{hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		state.hits[r.URL.Path]++
		state.mu.Unlock()

		switch r.URL.Path {
		case "/set/global":
			w.Write([]byte(globalBody))
		case "/room/orchid":
			w.Write([]byte(roomBody))
		case "/room/broken":
			http.Error(w, "oops", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, state
}

func TestEmote_Tag(t *testing.T) {
	effect := int64(8)
	assert.Equal(t, "<!42:a,b:8:Wave>", Emote{ID: "42", Name: "Wave", URLs: []string{"a", "b"}, Effect: &effect}.Tag())
	assert.Equal(t, "<!42>", Emote{ID: "42"}.Tag())
	assert.Equal(t, "<!42:Wave>", Emote{ID: "42", Name: "Wave"}.Tag())
}

func TestFFZ_Lookup(t *testing.T) {
	srv, hits := newFFZServer(t)
	ffz := NewFFZ(WithBaseURL(srv.URL + "/"))
	ctx := context.Background()
	require.NoError(t, ffz.Fetch(ctx))

	e, ok := ffz.Lookup(ctx, "someone", "orchid", "ZreknarF")
	require.True(t, ok)
	assert.Equal(t, "9", e.ID)
	assert.Equal(t, []string{"//cdn/9/1", "//cdn/9/2", "//cdn/9/4"}, e.URLs)

	e, ok = ffz.Lookup(ctx, "someone", "Orchid", "OrchidWave")
	require.True(t, ok)
	assert.Equal(t, SourceFFZ, e.Source)
	require.NotNil(t, e.Effect)
	assert.Equal(t, int64(8), *e.Effect)

	e, ok = ffz.Lookup(ctx, "vipuser", "elsewhere", "SupporterHype")
	require.True(t, ok)
	assert.Equal(t, "70", e.ID)

	_, ok = ffz.Lookup(ctx, "someone", "orchid", "Kappa")
	assert.False(t, ok)
	_, ok = ffz.Lookup(ctx, "someone", "orchid", "Kappa")
	assert.False(t, ok)

	assert.Equal(t, 1, hits.count("/room/orchid"), "channel sets are cached")
	assert.Equal(t, 1, hits.count("/user/someone"), "404 is cached")
}

func TestFFZ_ServerErrorIsNotCached(t *testing.T) {
	srv, hits := newFFZServer(t)
	ffz := NewFFZ(WithBaseURL(srv.URL))
	ctx := context.Background()

	_, ok := ffz.Lookup(ctx, "", "broken", "x")
	assert.False(t, ok)
	_, ok = ffz.Lookup(ctx, "", "broken", "x")
	assert.False(t, ok)

	assert.Equal(t, 2, hits.count("/room/broken"))
}

func TestFFZ_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	err := NewFFZ(WithBaseURL(srv.URL)).Fetch(context.Background())
	assert.Error(t, err)
}

func TestProcessor_Process(t *testing.T) {
	srv, _ := newFFZServer(t)
	ffz := NewFFZ(WithBaseURL(srv.URL))
	proc := NewProcessor(ffz)
	ctx := context.Background()
	require.NoError(t, proc.Fetch(ctx))

	got := proc.Process(ctx, "hi ZreknarF  ZreknarFs OrchidWave\tZreknarF", "someone", "orchid")
	assert.Equal(t,
		"hi <!9://cdn/9/1,//cdn/9/2,//cdn/9/4:0:ZreknarF>  ZreknarFs <!42://cdn/42/1:8:OrchidWave>\t<!9://cdn/9/1,//cdn/9/2,//cdn/9/4:0:ZreknarF>",
		got)
}

func TestProcessor_NativeEmotesTakePrecedence(t *testing.T) {
	proc := NewProcessor()
	got := proc.Process(context.Background(), "Kappa hello", "a", "b", Twitch("25", "Kappa"))
	assert.Equal(t,
		"<!25:https://static-cdn.jtvnw.net/emoticons/v2/25/default/dark/1.0,https://static-cdn.jtvnw.net/emoticons/v2/25/default/dark/2.0,https://static-cdn.jtvnw.net/emoticons/v2/25/default/dark/3.0:Kappa> hello",
		got)
}

func TestProcessor_NoEmotesReturnsInput(t *testing.T) {
	proc := NewProcessor()
	text := "  plain text  "
	assert.Equal(t, text, proc.Process(context.Background(), text, "a", "b"))
	assert.Equal(t, "", proc.Process(context.Background(), "", "a", "b"))
}

func TestSplit(t *testing.T) {
	toks := split(" a  bc ")
	texts := make([]string, len(toks))
	for i, tok := range toks {
		texts[i] = tok.text
	}
	assert.Equal(t, []string{" ", "a", "  ", "bc", " "}, texts)
	assert.True(t, toks[0].space)
	assert.False(t, toks[1].space)
}
