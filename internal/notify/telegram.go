package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "rewardbot/pkg/logx"
)

// TelegramPusher delivers reports over a Telegram bot. Recipient uids are
// chat ids in decimal form.
type TelegramPusher struct {
	bot *tele.Bot
	log logx.Logger
}

var _ Pusher = (*TelegramPusher)(nil)

func NewTelegramPusher(token string, log logx.Logger) (*TelegramPusher, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Send-only bot: no poller.
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramPusher{bot: b, log: log}, nil
}

// maxMessageLen is Telegram's hard cap per message; longer reports are split
// at line boundaries.
const maxMessageLen = 4096

func (p *TelegramPusher) Push(ctx context.Context, recipients []string, content, contentType string) error {
	mode := tele.ModeMarkdown
	if contentType != ContentMarkdown {
		mode = ""
	}
	parts := splitMessage(content, maxMessageLen)

	var firstErr error
	for _, uid := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(uid), 10, 64)
		if err != nil {
			p.log.Warn("invalid telegram recipient", logx.String("uid", uid))
			continue
		}
		for _, part := range parts {
			_, err = p.bot.Send(tele.ChatID(chatID), part, &tele.SendOptions{
				ParseMode:             mode,
				DisableWebPagePreview: true,
			})
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	return firstErr
}

// splitMessage chunks s into pieces of at most limit bytes, preferring line
// boundaries. A single oversized line is cut mid-line.
func splitMessage(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var out []string
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		for len(line) > limit {
			if b.Len() > 0 {
				out = append(out, b.String())
				b.Reset()
			}
			out = append(out, line[:limit])
			line = line[limit:]
		}
		need := len(line)
		if b.Len() > 0 {
			need++
		}
		if b.Len()+need > limit {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
