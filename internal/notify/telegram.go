package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

// Telegram sends plain text through the Bot API. The channel may carry its
// own token, otherwise Token is used.
type Telegram struct {
	Client *http.Client
	Token  string
	APIURL string
}

func (h *Telegram) Send(ctx context.Context, n Notification) Result {
	token := n.Channel.Get("token")
	if token == "" {
		token = h.Token
	}
	if token == "" {
		return invalid("telegram: no bot token")
	}
	chatID, err := strconv.ParseInt(n.Channel.Get("chat_id"), 10, 64)
	if err != nil || chatID == 0 {
		return invalid("telegram: missing or bad \"chat_id\"")
	}
	var threadID int
	if raw := n.Channel.Get("thread_id"); raw != "" {
		if threadID, err = strconv.Atoi(raw); err != nil {
			return invalid("telegram: bad \"thread_id\"")
		}
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:     h.APIURL,
		Token:   token,
		Client:  h.Client,
		Offline: true,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: telegram bot: %v", ErrChannelSend, err))
	}

	text := truncateRunes(Body(n), telegramTextLimit)

	done := make(chan error, 1)
	go func() {
		_, err := bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %v", ErrChannelSend, ctx.Err()))
	case err := <-done:
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrChannelSend, err))
		}
	}
	return ok()
}

// truncateRunes keeps at most max characters of s. Telegram counts the
// message limit in characters, not bytes.
func truncateRunes(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
