package telegram

import (
	"html"
	"strings"
	"unicode/utf8"
)

const (
	// maxMessageRunes is Telegram's text limit for one message.
	maxMessageRunes = 4096
	// maxCallbackDataLen is Telegram's callback_data limit in bytes.
	maxCallbackDataLen = 64
)

// htmlText is already escaped for ParseMode HTML.
type htmlText string

func esc(s string) htmlText { return htmlText(html.EscapeString(s)) }

func wrap(tag string, inner htmlText) htmlText {
	return htmlText("<" + tag + ">" + string(inner) + "</" + tag + ">")
}

func bold(s string) htmlText { return wrap("b", esc(s)) }
func pre(s string) htmlText  { return wrap("pre", esc(s)) }

// joinHTML joins non-blank parts with sep.
func joinHTML(sep string, parts ...htmlText) htmlText {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		ss = append(ss, string(p))
	}
	return htmlText(strings.Join(ss, sep))
}

// truncRunes cuts s to at most n runes, ending in "…" when cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
