package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/tui/ui"
	"github.com/rivo/tview"
)

// Thread displays a single conversation and its composer.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	key      conv.Key
	hasKey   bool
	onSend   func(text string)
}

// NewThread creates the thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	th := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && th.onSend != nil {
			text := composer.GetText()
			if text != "" {
				th.onSend(text)
				composer.SetText("")
			}
		}
	})

	return th
}

// SetKey stores the conversation this view is showing.
func (th *Thread) SetKey(key conv.Key) {
	th.key = key
	th.hasKey = true
}

// Key returns the active conversation key.
func (th *Thread) Key() (conv.Key, bool) {
	return th.key, th.hasKey
}

// SetTitle updates the thread title, usually peer plus listing name.
func (th *Thread) SetTitle(title string) {
	th.messages.SetTitle(fmt.Sprintf(" %s ", title))
}

// SetOnSend sets the callback invoked when the composer submits.
func (th *Thread) SetOnSend(fn func(text string)) {
	th.onSend = fn
}

// RestoreDraft puts text back into the composer, used when a send fails.
func (th *Thread) RestoreDraft(text string) {
	if th.composer.GetText() == "" {
		th.composer.SetText(text)
	}
}

// Update renders the conversation oldest first.
func (th *Thread) Update(c *conv.Conversation, currentUser string) {
	th.messages.Clear()
	if c == nil {
		return
	}

	for _, m := range c.Thread() {
		sender := m.Sender
		marker := ""
		if m.Sender == currentUser {
			sender = "You"
			switch {
			case m.Pending:
				marker = " [::d](sending...)[-:-:-]"
			case m.Read:
				marker = " [::d]seen[-:-:-]"
			}
		}

		body := tview.Escape(sanitizeForTerminal(m.Body))
		if m.HasAttachment() {
			if body != "" {
				body += "\n"
			}
			body += "[::d][attachment] " + tview.Escape(sanitizeForTerminal(m.FilePath)) + "[-:-:-]"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), formatCreatedAt(&m), marker, body)
		_, _ = fmt.Fprint(th.messages, line)
	}

	th.messages.ScrollToEnd()
}

// Messages returns the text view for focus management.
func (th *Thread) Messages() *tview.TextView {
	return th.messages
}

// Composer returns the input field for focus management.
func (th *Thread) Composer() *tview.InputField {
	return th.composer
}
