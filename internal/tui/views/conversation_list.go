package views

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/store"
	"github.com/kaanbt/pazar/internal/tui/ui"
	"github.com/rivo/tview"
)

const createdAtLayout = "2006-01-02T15:04:05.000000"

// The server's isoformat drops the fractional part entirely when the
// microseconds are exactly zero.
const createdAtLayoutSeconds = "2006-01-02T15:04:05"

// ConversationList is the main conversation table, one row per
// peer-and-listing pair, newest activity first.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	convs  []conv.Conversation
	titles map[int64]string
	filter string
}

// NewConversationList creates the conversation table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table:  table,
		theme:  theme,
		titles: map[int64]string{},
	}
}

// Update refreshes the table with a new view and listing title cache.
func (cl *ConversationList) Update(convs []conv.Conversation, titles map[int64]string) {
	cl.convs = convs
	if titles != nil {
		cl.titles = titles
	}
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" PEER", 1},
		{" LISTING", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	row := 1
	for i := range cl.convs {
		c := &cl.convs[i]
		if !cl.matchesFilter(c) {
			continue
		}

		unread := ""
		peerColor := cl.theme.FgColor
		if c.Unread > 0 {
			unread = strconv.Itoa(c.Unread)
			peerColor = cl.theme.UnreadColor
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.Key.Peer))).SetExpansion(1).SetTextColor(peerColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(cl.listingLabel(c.Key.ListingID)))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(previewOf(c.Last())))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(formatCreatedAt(c.Last())).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 4, tview.NewTableCell(unread).SetExpansion(0).SetTextColor(cl.theme.UnreadColor).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

func (cl *ConversationList) matchesFilter(c *conv.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	if containsFold(c.Key.Peer, cl.filter) || containsFold(cl.listingLabel(c.Key.ListingID), cl.filter) {
		return true
	}
	if last := c.Last(); last != nil && containsFold(last.Body, cl.filter) {
		return true
	}
	return false
}

func (cl *ConversationList) listingLabel(id int64) string {
	if title, ok := cl.titles[id]; ok && title != "" {
		return title
	}
	return "#" + strconv.FormatInt(id, 10)
}

// SelectedKey returns the key of the currently selected conversation.
func (cl *ConversationList) SelectedKey() (conv.Key, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1 // header row
	if idx < 0 {
		return conv.Key{}, false
	}
	visible := 0
	for i := range cl.convs {
		if !cl.matchesFilter(&cl.convs[i]) {
			continue
		}
		if visible == idx {
			return cl.convs[i].Key, true
		}
		visible++
	}
	return conv.Key{}, false
}

func previewOf(m *store.Message) string {
	if m == nil {
		return ""
	}
	body := m.Body
	if body == "" && m.HasAttachment() {
		body = "(attachment)"
	}
	if m.Pending {
		return "(sending) " + body
	}
	return body
}

func formatCreatedAt(m *store.Message) string {
	if m == nil {
		return ""
	}
	var t time.Time
	if m.Pending {
		t = m.SubmittedAt
	} else {
		parsed, err := time.Parse(createdAtLayout, m.CreatedAt)
		if err != nil {
			parsed, err = time.Parse(createdAtLayoutSeconds, m.CreatedAt)
		}
		if err != nil {
			return ""
		}
		t = parsed
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
