package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	tweetsPath = "/2/tweets"

	// MaxTweetLength is the character limit of a standard post.
	MaxTweetLength = 280
)

type createTweetBody struct {
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
	Text string `json:"text"`
}

// CreateTweet publishes a post on behalf of a user and returns its id.
// userToken is the user's OAuth 2.0 access token; inReplyTo may be empty.
func (c *Client) CreateTweet(ctx context.Context, userToken, text, inReplyTo string) (string, error) {
	if userToken == "" {
		return "", fmt.Errorf("create tweet: %w", ErrUnauthorized)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("create tweet: empty text")
	}
	if n := utf8.RuneCountInString(text); n > MaxTweetLength {
		return "", fmt.Errorf("create tweet: text is %d characters, limit is %d", n, MaxTweetLength)
	}

	payload := createTweetBody{Text: text}
	if inReplyTo != "" {
		payload.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: inReplyTo}
	}

	body, err := c.doRequest(ctx, http.MethodPost, tweetsPath, nil, userToken, payload)
	if err != nil {
		return "", fmt.Errorf("create tweet: %w", err)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode create tweet response: %w", err)
	}
	if resp.Data.ID == "" {
		return "", errors.New("create tweet: response carried no id")
	}

	slog.Info("Published tweet", "component", "twitter", "tweet_id", resp.Data.ID, "reply", inReplyTo != "")
	return resp.Data.ID, nil
}
