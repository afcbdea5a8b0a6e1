package tgui

import "html"

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

// I renders escaped italic text.
func I(s string) H { return wrap("i", Esc(s)) }

// Pre renders a preformatted block.
// NOTE: avoid using this for very long content unless you split it into
// multiple Pre blocks, because Telegram requires each message chunk to have
// balanced tags.
func Pre(s string) H {
	return H("<pre><code>" + html.EscapeString(s) + "</code></pre>")
}
