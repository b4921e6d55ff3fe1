package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type chatBlock struct {
	Type string        `json:"type"`
	Text *chatBlockTxt `json:"text,omitempty"`
}

type chatBlockTxt struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	Channel string      `json:"channel,omitempty"`
	Text    string      `json:"text"`
	Blocks  []chatBlock `json:"blocks"`
}

func newChatMessage(n Notification) chatMessage {
	return chatMessage{
		Text: Subject(n),
		Blocks: []chatBlock{
			{Type: "header", Text: &chatBlockTxt{Type: "plain_text", Text: Subject(n)}},
			{Type: "section", Text: &chatBlockTxt{Type: "mrkdwn", Text: "```" + strings.TrimSpace(Body(n)) + "```"}},
		},
	}
}

// ChatWebhook posts message blocks to an incoming webhook URL.
type ChatWebhook struct {
	Client *http.Client
}

func (h *ChatWebhook) Send(ctx context.Context, n Notification) Result {
	url := n.Channel.Get("url")
	if !validURL(url) {
		return invalid("chat_webhook: missing or bad \"url\"")
	}
	if _, err := postJSON(ctx, h.Client, url, nil, newChatMessage(n)); err != nil {
		return fail(err)
	}
	return ok()
}

// ChatApp posts through the workspace API with a bot token. A configured
// webhook_url takes precedence over the token.
type ChatApp struct {
	Client  *http.Client
	BaseURL string
}

type chatAppResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (h *ChatApp) Send(ctx context.Context, n Notification) Result {
	msg := newChatMessage(n)

	if hook := n.Channel.Get("webhook_url"); hook != "" {
		if !validURL(hook) {
			return invalid("chat_app: bad \"webhook_url\"")
		}
		if _, err := postJSON(ctx, h.Client, hook, nil, msg); err != nil {
			return fail(err)
		}
		return ok()
	}

	token, ch := n.Channel.Get("token"), n.Channel.Get("channel")
	if token == "" || ch == "" {
		return invalid("chat_app: need \"webhook_url\" or both \"token\" and \"channel\"")
	}
	base := strings.TrimRight(h.BaseURL, "/")
	if base == "" {
		base = "https://slack.com/api"
	}
	msg.Channel = ch

	body, err := postJSON(ctx, h.Client, base+"/chat.postMessage",
		map[string]string{"Authorization": "Bearer " + token}, msg)
	if err != nil {
		return fail(err)
	}
	var resp chatAppResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fail(fmt.Errorf("%w: decode response: %v", ErrChannelSend, err))
	}
	if !resp.OK {
		return fail(fmt.Errorf("%w: api error %q", ErrChannelSend, resp.Error))
	}
	return ok()
}

func validURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
