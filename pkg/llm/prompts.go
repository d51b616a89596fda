package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// MaxPostLength caps generated text at the length of a standard post.
const MaxPostLength = 280

const defaultTone = "friendly and concise"

// Generator produces post text for a user.
type Generator interface {
	ReplySuggestion(ctx context.Context, profile *types.Profile, post types.Post) (string, error)
	Promotion(ctx context.Context, profile *types.Profile, topic string) (string, error)
}

// Completer is the raw completion surface. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ReplyPrompt builds the prompts for a reply to a monitored post.
func ReplyPrompt(profile *types.Profile, post types.Post) (system, user string) {
	system = fmt.Sprintf(
		"You write replies on X on behalf of %s. Tone: %s. "+
			"Be genuinely helpful to the author first; mention the product only when it directly solves their problem. "+
			"No hashtags, no links, at most %d characters. Reply with the post text only.",
		displayName(profile), tone(profile), MaxPostLength)

	var b strings.Builder
	if desc := strings.TrimSpace(profile.ProductDescription); desc != "" {
		fmt.Fprintf(&b, "Product: %s\n\n", desc)
	}
	fmt.Fprintf(&b, "Post by @%s:\n%s\n\nWrite a reply.", post.AuthorUsername, post.Text)
	return system, b.String()
}

// PromotionPrompt builds the prompts for a standalone promotional post.
func PromotionPrompt(profile *types.Profile, topic string) (system, user string) {
	system = fmt.Sprintf(
		"You write posts on X on behalf of %s. Tone: %s. "+
			"Write one engaging post, at most %d characters, with at most one hashtag. Reply with the post text only.",
		displayName(profile), tone(profile), MaxPostLength)

	var b strings.Builder
	if desc := strings.TrimSpace(profile.ProductDescription); desc != "" {
		fmt.Fprintf(&b, "Product: %s\n\n", desc)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "what the product does and who it helps"
	}
	fmt.Fprintf(&b, "Topic: %s", topic)
	return system, b.String()
}

func displayName(p *types.Profile) string {
	switch {
	case p == nil:
		return "the user"
	case p.DisplayName != "":
		return p.DisplayName
	case p.TwitterHandle != "":
		return "@" + p.TwitterHandle
	default:
		return "the user"
	}
}

func tone(p *types.Profile) string {
	if p == nil || strings.TrimSpace(p.Tone) == "" {
		return defaultTone
	}
	return p.Tone
}

// Finalize trims model output into a postable string.
func Finalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"“”`)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxPostLength {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:MaxPostLength-1])
	if i := strings.LastIndexAny(cut, " \n"); i > MaxPostLength/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

// ContentGenerator implements Generator on top of a Completer.
type ContentGenerator struct {
	llm     Completer
	metrics *Metrics
}

// NewGenerator creates a Generator. metrics may be nil.
func NewGenerator(c Completer, metrics *Metrics) *ContentGenerator {
	return &ContentGenerator{llm: c, metrics: metrics}
}

// ReplySuggestion drafts a reply to post.
func (g *ContentGenerator) ReplySuggestion(ctx context.Context, profile *types.Profile, post types.Post) (string, error) {
	system, user := ReplyPrompt(profile, post)
	return g.generate(ctx, "reply", system, user)
}

// Promotion drafts a promotional post about topic.
func (g *ContentGenerator) Promotion(ctx context.Context, profile *types.Profile, topic string) (string, error) {
	system, user := PromotionPrompt(profile, topic)
	return g.generate(ctx, "promotion", system, user)
}

func (g *ContentGenerator) generate(ctx context.Context, kind, system, user string) (string, error) {
	out, err := g.llm.Complete(ctx, system, user)
	if err != nil {
		g.metrics.observe(kind, "error")
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	text := Finalize(out)
	if text == "" {
		g.metrics.observe(kind, "empty")
		return "", fmt.Errorf("generate %s: %w", kind, ErrEmptyOutput)
	}
	g.metrics.observe(kind, "ok")
	return text, nil
}
