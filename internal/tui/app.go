// Package tui is the terminal frontend: a conversation table, a thread view
// with a composer, and a login form, all driven by engine events.
package tui

import (
	"context"
	"strconv"

	"github.com/gdamore/tcell/v2"
	"github.com/kaanbt/pazar/internal/api"
	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/outbox"
	"github.com/kaanbt/pazar/internal/receipt"
	"github.com/kaanbt/pazar/internal/session"
	"github.com/kaanbt/pazar/internal/status"
	engine "github.com/kaanbt/pazar/internal/sync"
	"github.com/kaanbt/pazar/internal/tui/ui"
	"github.com/kaanbt/pazar/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// Params collects the app's collaborators.
type Params struct {
	Client    *api.Client
	Scheduler *engine.Scheduler
	Tracker   *outbox.Tracker
	Receipts  *receipt.Coordinator
	Identity  *session.Store
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
	Session   string
}

// App is the TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	theme     *ui.Theme
	flash     *ui.FlashModel
	statusBar *views.StatusBar
	list      *views.ConversationList
	filter    *tview.InputField
	thread    *views.Thread
	login     *views.Login

	client    *api.Client
	scheduler *engine.Scheduler
	tracker   *outbox.Tracker
	receipts  *receipt.Coordinator
	identity  *session.Store
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger

	// titles caches listing id to title; touched only on the UI goroutine.
	titles map[int64]string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(p Params) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		flash:     ui.NewFlashModel(),
		statusBar: views.NewStatusBar(),
		list:      views.NewConversationList(theme),
		thread:    views.NewThread(theme),
		login:     views.NewLogin(theme),
		client:    p.Client,
		scheduler: p.Scheduler,
		tracker:   p.Tracker,
		receipts:  p.Receipts,
		identity:  p.Identity,
		machine:   p.Machine,
		bus:       p.Bus,
		logger:    p.Logger,
		titles:    map[int64]string{},
		ctx:       ctx,
		cancel:    cancel,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	a.statusBar.SetSession(p.Session)
	a.statusBar.SetState(string(p.Machine.Current()))
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		if key, ok := a.list.SelectedKey(); ok {
			a.openConversation(key)
		}
	})

	a.thread.SetOnSend(func(text string) {
		key, ok := a.thread.Key()
		if !ok {
			return
		}
		a.send(key, text)
	})

	a.login.SetOnSubmit(func(username, password string) {
		a.runLogin(username, password)
	})
}

func (a *App) setupLayout() {
	a.filter = tview.NewInputField().
		SetLabel(" / ").
		SetFieldWidth(0)
	a.filter.SetFieldBackgroundColor(a.theme.BgColor)
	a.filter.SetFieldTextColor(a.theme.FgColor)
	a.filter.SetLabelColor(a.theme.MenuKeyColor)
	a.filter.SetChangedFunc(func(text string) {
		a.list.SetFilter(text)
	})
	a.filter.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.filter.SetText("")
			a.list.ClearFilter()
		}
		a.app.SetFocus(a.list)
	})

	listPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.list, 0, 1, true).
		AddItem(a.filter, 1, 0, false)

	a.pages.AddPage("conversations", listPage, true, true)
	a.pages.AddPage("thread", a.thread, true, false)
	a.pages.AddPage("login", a.login, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "thread" {
			a.showConversations()
			return nil
		}

		// Text input widgets get all keys.
		switch a.app.GetFocus().(type) {
		case *tview.InputField, *tview.Form, *tview.Button:
			return event
		}

		if currentPage == "thread" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.thread.Composer())
			return nil
		}

		if currentPage == "conversations" && event.Key() == tcell.KeyRune && event.Rune() == '/' {
			a.app.SetFocus(a.filter)
			return nil
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.Stop()
				return nil
			case 'r':
				go a.scheduler.TrySync(a.ctx)
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application loop.
func (a *App) Run() error {
	if id, ok := a.identity.Current(); ok {
		a.statusBar.SetUsername(id.Username)
	} else {
		a.pages.SwitchToPage("login")
		a.app.SetFocus(a.login.Form())
	}

	go a.watchEvents()
	return a.app.Run()
}

// watchEvents drives all redraws from the engine bus.
func (a *App) watchEvents() {
	events, cancel := a.bus.Subscribe("", 64)
	defer cancel()

	for {
		select {
		case evt := <-events:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSyncCycle:
		a.app.QueueUpdateDraw(a.refresh)

	case bus.KindMessageUpserted:
		// A pending entry was just registered; rebuild so the echo shows
		// before the POST resolves.
		a.scheduler.RefreshView()
		a.app.QueueUpdateDraw(a.refresh)

	case bus.KindSyncError:
		a.flash.Warn("sync failed, retrying")
		a.app.QueueUpdateDraw(a.refresh)

	case bus.KindSendFailed:
		failure, ok := evt.Payload.(bus.SendFailure)
		if !ok {
			return
		}
		a.flash.Warn("send failed: " + failure.Err)
		a.scheduler.RefreshView()
		a.app.QueueUpdateDraw(func() {
			// Put the typed text back so the user can retry.
			if key, ok := a.thread.Key(); ok && key.Peer == failure.Receiver && key.ListingID == failure.ListingID {
				a.thread.RestoreDraft(failure.Body)
			}
			a.refresh()
		})

	case bus.KindStatusChanged:
		change, ok := evt.Payload.(status.Change)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetState(string(change.To))
			if change.To == status.AuthRequired {
				a.showLogin()
			}
		})

	case bus.KindIdentityChanged:
		username, _ := evt.Payload.(string)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetUsername(username)
			a.titles = map[int64]string{}
			a.showConversations()
		})
	}
}

// refresh re-renders the front page from the scheduler's current view.
func (a *App) refresh() {
	convs := a.scheduler.Conversations()
	a.list.Update(convs, a.titles)
	a.statusBar.SetFlash(a.flash.Get())

	currentPage, _ := a.pages.GetFrontPage()
	if currentPage != "thread" {
		return
	}
	key, ok := a.thread.Key()
	if !ok {
		return
	}
	if c := findConversation(convs, key); c != nil {
		a.thread.Update(c, a.currentUser())
		// New incoming messages in an open thread are receipted right away.
		go a.issueReceipts(*c)
	} else {
		a.thread.Update(nil, "")
	}
}

func (a *App) openConversation(key conv.Key) {
	c := findConversation(a.scheduler.Conversations(), key)
	if c == nil {
		return
	}

	a.thread.SetKey(key)
	a.thread.SetTitle(a.threadTitle(key))
	a.thread.Update(c, a.currentUser())
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.thread.Messages())

	go a.issueReceipts(*c)
	if _, ok := a.titles[key.ListingID]; !ok {
		go a.loadTitle(key)
	}
}

// issueReceipts marks the conversation's unread incoming messages as read.
func (a *App) issueReceipts(c conv.Conversation) {
	user := a.currentUser()
	if user == "" {
		return
	}
	if sent := a.receipts.ConversationOpened(a.ctx, &c, user); len(sent) > 0 {
		a.app.QueueUpdateDraw(a.refresh)
	}
}

func (a *App) loadTitle(key conv.Key) {
	p, err := a.client.GetProduct(a.ctx, key.ListingID)
	if err != nil {
		a.logger.Warn("listing title lookup failed",
			zap.Int64("listing_id", key.ListingID), zap.Error(err))
		return
	}
	a.app.QueueUpdateDraw(func() {
		a.titles[key.ListingID] = p.Title
		a.list.Update(a.scheduler.Conversations(), a.titles)
		if current, ok := a.thread.Key(); ok && current == key {
			a.thread.SetTitle(a.threadTitle(key))
		}
	})
}

func (a *App) threadTitle(key conv.Key) string {
	if title := a.titles[key.ListingID]; title != "" {
		return key.Peer + " / " + title
	}
	return key.Peer + " / #" + strconv.FormatInt(key.ListingID, 10)
}

// send hands the text to the tracker off the UI goroutine. The optimistic
// echo arrives through the message.upserted event the register step
// publishes; a failure arrives as message.send_failed.
func (a *App) send(key conv.Key, text string) {
	user := a.currentUser()
	if user == "" {
		return
	}
	go func() {
		if err := a.tracker.Send(a.ctx, user, key.Peer, key.ListingID, text, nil, ""); err != nil {
			// Rollback and notification already happened inside Send.
			return
		}
		a.scheduler.RefreshView()
		a.app.QueueUpdateDraw(a.refresh)
	}()
}

func (a *App) runLogin(username, password string) {
	go func() {
		result, err := a.client.Login(a.ctx, username, password)
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				a.login.ShowError(err.Error())
			})
			return
		}
		name := result.Username
		if name == "" {
			name = username
		}
		if err := a.identity.Save(session.Identity{Username: name, Token: result.Token}); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.login.ShowError("saving identity: " + err.Error())
			})
			return
		}

		a.scheduler.TrySync(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.login.Reset()
			a.statusBar.SetUsername(name)
			a.showConversations()
		})
	}()
}

func (a *App) showConversations() {
	a.list.Update(a.scheduler.Conversations(), a.titles)
	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.list)
}

func (a *App) showLogin() {
	a.pages.SwitchToPage("login")
	a.app.SetFocus(a.login.Form())
}

func (a *App) currentUser() string {
	if id, ok := a.identity.Current(); ok {
		return id.Username
	}
	return ""
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func findConversation(convs []conv.Conversation, key conv.Key) *conv.Conversation {
	for i := range convs {
		if convs[i].Key == key {
			return &convs[i]
		}
	}
	return nil
}
