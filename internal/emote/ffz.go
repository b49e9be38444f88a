package emote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultFFZBaseURL = "https://api.frankerfacez.com/v1"

var errNotFound = errors.New("not found")

// FFZ resolves FrankerFaceZ emotes. Global sets are loaded by Fetch, while
// channel and user sets are fetched on first use and cached. A 404 is
// cached as an empty set.
type FFZ struct {
	baseURL string
	client  *http.Client

	mu          sync.Mutex
	sets        map[string][]Emote  // set id -> emotes
	globalSets  []string            // default set ids
	channelSets map[string][]string // channel -> set ids
	userSets    map[string][]string // user -> set ids
}

type FFZOption func(*FFZ)

func WithBaseURL(u string) FFZOption {
	return func(f *FFZ) {
		f.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(c *http.Client) FFZOption {
	return func(f *FFZ) {
		f.client = c
	}
}

func NewFFZ(opts ...FFZOption) *FFZ {
	f := &FFZ{
		baseURL:     DefaultFFZBaseURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		sets:        make(map[string][]Emote),
		channelSets: make(map[string][]string),
		userSets:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type ffzSet struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Emoticons []ffzEmote `json:"emoticons"`
}

type ffzEmote struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	ModifierFlags int64             `json:"modifier_flags"`
	URLs          map[string]string `json:"urls"`
}

type ffzSetsResponse struct {
	Sets map[string]ffzSet `json:"sets"`
}

type ffzGlobalResponse struct {
	DefaultSets []int64             `json:"default_sets"`
	Sets        map[string]ffzSet   `json:"sets"`
	Users       map[string][]string `json:"users"`
}

// Fetch loads the global emote sets.
func (f *FFZ) Fetch(ctx context.Context) error {
	var resp ffzGlobalResponse
	if err := f.get(ctx, "/set/global", &resp); err != nil {
		return fmt.Errorf("fetch ffz global sets: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cacheSets(resp.Sets, "global")
	f.globalSets = f.globalSets[:0]
	for _, id := range resp.DefaultSets {
		f.globalSets = append(f.globalSets, strconv.FormatInt(id, 10))
	}
	for user, ids := range resp.Users {
		f.userSets[strings.ToLower(user)] = ids
	}

	slog.Info("loaded ffz global emotes", "sets", len(resp.Sets), "default_sets", len(f.globalSets))
	return nil
}

// Lookup checks global, then channel, then user sets.
func (f *FFZ) Lookup(ctx context.Context, user, channel, name string) (Emote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.find(f.globalSets, name); ok {
		return e, true
	}

	channel = strings.ToLower(channel)
	if channel != "" {
		ids, ok := f.channelSets[channel]
		if !ok {
			ids = f.fetchScoped(ctx, "/room/"+url.PathEscape(channel), channel, channel, f.channelSets)
		}
		if e, ok := f.find(ids, name); ok {
			return e, true
		}
	}

	user = strings.ToLower(user)
	if user != "" {
		ids, ok := f.userSets[user]
		if !ok {
			ids = f.fetchScoped(ctx, "/user/"+url.PathEscape(user), user, channel, f.userSets)
		}
		if e, ok := f.find(ids, name); ok {
			return e, true
		}
	}

	return Emote{}, false
}

// fetchScoped loads the sets at path and records their ids under key in
// cache. Must be called with f.mu held.
func (f *FFZ) fetchScoped(ctx context.Context, path, key, channel string, cache map[string][]string) []string {
	var resp ffzSetsResponse
	err := f.get(ctx, path, &resp)
	if errors.Is(err, errNotFound) {
		cache[key] = []string{}
		return nil
	}
	if err != nil {
		slog.Warn("ffz lookup failed", "path", path, "error", err)
		return nil
	}

	f.cacheSets(resp.Sets, channel)
	ids := make([]string, 0, len(resp.Sets))
	for id := range resp.Sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cache[key] = ids
	return ids
}

func (f *FFZ) cacheSets(sets map[string]ffzSet, channel string) {
	for id, set := range sets {
		emotes := make([]Emote, 0, len(set.Emoticons))
		for _, fe := range set.Emoticons {
			effect := fe.ModifierFlags
			emotes = append(emotes, Emote{
				Source:  SourceFFZ,
				ID:      strconv.FormatInt(fe.ID, 10),
				Name:    fe.Name,
				Channel: channel,
				Effect:  &effect,
				URLs:    sortedURLs(fe.URLs),
			})
		}
		f.sets[id] = emotes
	}
}

func (f *FFZ) find(setIDs []string, name string) (Emote, bool) {
	for _, id := range setIDs {
		for _, e := range f.sets[id] {
			if e.Name == name {
				return e, true
			}
		}
	}
	return Emote{}, false
}

func (f *FFZ) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sortedURLs orders image urls by scale ("1", "2", "4").
func sortedURLs(urls map[string]string) []string {
	scales := make([]string, 0, len(urls))
	for scale := range urls {
		scales = append(scales, scale)
	}
	sort.Slice(scales, func(i, j int) bool {
		a, errA := strconv.Atoi(scales[i])
		b, errB := strconv.Atoi(scales[j])
		if errA != nil || errB != nil {
			return scales[i] < scales[j]
		}
		return a < b
	})

	out := make([]string, 0, len(scales))
	for _, s := range scales {
		out = append(out, urls[s])
	}
	return out
}
