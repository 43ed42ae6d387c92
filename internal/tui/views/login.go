package views

import (
	"fmt"

	"github.com/kaanbt/pazar/internal/tui/ui"
	"github.com/rivo/tview"
)

// Login is the credential form shown when no identity is saved.
type Login struct {
	*tview.Flex
	theme    *ui.Theme
	form     *tview.Form
	notice   *tview.TextView
	onSubmit func(username, password string)
}

// NewLogin creates the login form.
func NewLogin(theme *ui.Theme) *Login {
	notice := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	notice.SetBackgroundColor(theme.BgColor)

	l := &Login{theme: theme, notice: notice}

	form := tview.NewForm().
		AddInputField("Username", "", 32, nil, nil).
		AddPasswordField("Password", "", 32, '*', nil)
	form.AddButton("Login", func() {
		if l.onSubmit == nil {
			return
		}
		user := l.form.GetFormItemByLabel("Username").(*tview.InputField).GetText()
		pass := l.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
		l.onSubmit(user, pass)
	})
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.BorderColor)
	form.SetTitle(" Login ")
	form.SetTitleColor(theme.TitleColor)
	l.form = form

	l.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox().SetBackgroundColor(theme.BgColor), 0, 1, false).
		AddItem(form, 9, 0, true).
		AddItem(notice, 1, 0, false).
		AddItem(tview.NewBox().SetBackgroundColor(theme.BgColor), 0, 1, false)

	return l
}

// SetOnSubmit sets the callback invoked with the entered credentials.
func (l *Login) SetOnSubmit(fn func(username, password string)) {
	l.onSubmit = fn
}

// ShowError displays a failure message under the form.
func (l *Login) ShowError(msg string) {
	l.notice.Clear()
	_, _ = fmt.Fprintf(l.notice, "[red]%s[-]", tview.Escape(msg))
}

// ClearError removes the failure message.
func (l *Login) ClearError() {
	l.notice.Clear()
}

// Form returns the form for focus management.
func (l *Login) Form() *tview.Form {
	return l.form
}

// Reset clears both fields.
func (l *Login) Reset() {
	l.form.GetFormItemByLabel("Username").(*tview.InputField).SetText("")
	l.form.GetFormItemByLabel("Password").(*tview.InputField).SetText("")
	l.notice.Clear()
}
