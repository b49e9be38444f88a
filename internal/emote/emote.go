// Package emote rewrites emote names in chat text into inline image tags
// the overlay renders.
//
// A tag has the form <!id:url1,url2:effect:name>; the url, effect and name
// segments are left out when unknown.
package emote

import (
	"context"
	"strconv"
	"strings"
	"unicode"
)

const (
	SourceTwitch = "Twitch"
	SourceFFZ    = "FrankerFaceZ"
)

// Emote is an image that replaces a word in chat.
type Emote struct {
	Source  string
	ID      string
	Name    string
	Channel string
	Effect  *int64
	URLs    []string
}

// Tag formats e as an inline overlay tag.
func (e Emote) Tag() string {
	var b strings.Builder
	b.WriteString("<!")
	b.WriteString(e.ID)
	if len(e.URLs) > 0 {
		b.WriteByte(':')
		b.WriteString(strings.Join(e.URLs, ","))
	}
	if e.Effect != nil {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(*e.Effect, 10))
	}
	if e.Name != "" {
		b.WriteByte(':')
		b.WriteString(e.Name)
	}
	b.WriteByte('>')
	return b.String()
}

// Twitch builds a first-party emote from the id and name Twitch tags a
// message with.
func Twitch(id, name string) Emote {
	return Emote{
		Source: SourceTwitch,
		ID:     id,
		Name:   name,
		URLs: []string{
			"https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/1.0",
			"https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/2.0",
			"https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/3.0",
		},
	}
}

// Provider resolves emote names for a third-party emote service.
type Provider interface {
	// Fetch loads the provider's global emotes.
	Fetch(ctx context.Context) error
	// Lookup finds the emote called name that user may use in channel.
	Lookup(ctx context.Context, user, channel, name string) (Emote, bool)
}

// Processor replaces emote names using a chain of providers. The first
// provider that knows a name wins.
type Processor struct {
	providers []Provider
}

func NewProcessor(providers ...Provider) *Processor {
	return &Processor{providers: providers}
}

// Fetch preloads every provider, returning the first error.
func (p *Processor) Fetch(ctx context.Context) error {
	for _, prov := range p.providers {
		if err := prov.Fetch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Process rewrites every whole-word emote in text. native holds emotes the
// chat platform already identified in the message and takes precedence.
func (p *Processor) Process(ctx context.Context, text, user, channel string, native ...Emote) string {
	known := make(map[string]Emote, len(native))
	for _, e := range native {
		if e.Name != "" {
			known[e.Name] = e
		}
	}

	misses := make(map[string]bool)
	tokens := split(text)
	replaced := false
	for i, tok := range tokens {
		if tok.space {
			continue
		}
		if e, ok := known[tok.text]; ok {
			tokens[i].text = e.Tag()
			replaced = true
			continue
		}
		if misses[tok.text] {
			continue
		}
		if e, ok := p.lookup(ctx, user, channel, tok.text); ok {
			known[tok.text] = e
			tokens[i].text = e.Tag()
			replaced = true
			continue
		}
		misses[tok.text] = true
	}

	if !replaced {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, tok := range tokens {
		b.WriteString(tok.text)
	}
	return b.String()
}

func (p *Processor) lookup(ctx context.Context, user, channel, name string) (Emote, bool) {
	for _, prov := range p.providers {
		if e, ok := prov.Lookup(ctx, user, channel, name); ok {
			return e, true
		}
	}
	return Emote{}, false
}

type token struct {
	text  string
	space bool
}

// split cuts s into alternating runs of whitespace and non-whitespace.
func split(s string) []token {
	var tokens []token
	start := 0
	inSpace := false
	for i, r := range s {
		sp := unicode.IsSpace(r)
		if i == 0 {
			inSpace = sp
			continue
		}
		if sp != inSpace {
			tokens = append(tokens, token{text: s[start:i], space: inSpace})
			start = i
			inSpace = sp
		}
	}
	if start < len(s) {
		tokens = append(tokens, token{text: s[start:], space: inSpace})
	}
	return tokens
}
