package dispatch

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/logging"
)

// Locale selects the language of user-facing error text.
type Locale int

const (
	LocaleEN Locale = iota
	LocaleZH
)

// ParseLocale accepts BCP 47 tags and POSIX values such as "zh_CN.UTF-8".
// Anything that is not Chinese is English.
func ParseLocale(s string) Locale {
	s, _, _ = strings.Cut(s, ".")
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	if s == "" {
		return LocaleEN
	}
	tag, err := language.Parse(s)
	if err != nil {
		return LocaleEN
	}
	if base, _ := tag.Base(); base.String() == "zh" {
		return LocaleZH
	}
	return LocaleEN
}

func loginMessage(loc Locale, idx int) string {
	link := fmt.Sprintf(`<a href="https://gemini.google.com/u/%d/" target="_blank" style="color: inherit; text-decoration: underline;">gemini.google.com/u/%d/</a>`, idx, idx)
	if loc == LocaleZH {
		return fmt.Sprintf("账号 (Index: %d) 未登录或会话已过期。请前往 %s 登录。", idx, link)
	}
	return fmt.Sprintf("Account (Index: %d) not logged in. Please log in at %s.", idx, link)
}

func rateLimitMessage(loc Locale) string {
	if loc == LocaleZH {
		return "请求过于频繁，请稍后再试 (429)"
	}
	return "Too many requests, please try again later (429)"
}

// translate converts a failed dispatch into the error reply shown to the user.
func (m *Manager) translate(ctx context.Context, err error, provider Provider) *Reply {
	msg := err.Error()
	if msg == "" {
		msg = "Unknown error"
	}

	switch {
	case ai.IsLoginRequired(msg) || (provider == ProviderWeb && ai.KindOf(err) == ai.KindAuth):
		idx := 0
		if m.auth != nil {
			m.auth.ForceContextRefresh()
			if rerr := m.auth.ResetContext(context.WithoutCancel(ctx)); rerr != nil {
				logging.Warnf("[Dispatch] Failed to clear stored context: %v", rerr)
			}
			idx = m.auth.CurrentIndex()
		}
		msg = loginMessage(m.locale, idx)
	case ai.IsRateLimited(err):
		msg = rateLimitMessage(m.locale)
	}
	return errorReply(msg)
}
