// Package tui renders live alarm countdowns in the terminal.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"taskreminder/internal/engine"
	"taskreminder/internal/notify"
)

const (
	DefaultInterval  = time.Second
	DefaultBannerTTL = 10 * time.Second
)

// Source supplies countdowns. engine.Engine satisfies it.
type Source interface {
	Countdowns(ctx context.Context) ([]engine.CountdownInfo, error)
}

type Config struct {
	Source Source
	// Alarms delivers fired alarms; nil disables banners.
	Alarms <-chan notify.Notification
	// AppName heads the alarm banner.
	AppName string
	// Interval between refreshes; zero selects DefaultInterval.
	Interval time.Duration
	// BannerTTL is how long a banner stays up; zero selects DefaultBannerTTL.
	BannerTTL time.Duration
	Now       func() time.Time
}

type banner struct {
	notification notify.Notification
	shownAt      time.Time
}

// Model is the bubbletea model of the watch screen.
type Model struct {
	source  Source
	alarms  <-chan notify.Notification
	now     func() time.Time
	err     error
	items   []engine.CountdownInfo
	banners []banner

	keys     KeyMap
	styles   Styles
	help     help.Model
	bar      progress.Model
	appName  string
	interval time.Duration
	ttl      time.Duration
	width    int
	quitting bool
}

func New(cfg Config) *Model {
	m := &Model{
		source:   cfg.Source,
		alarms:   cfg.Alarms,
		now:      cfg.Now,
		keys:     DefaultKeyMap(),
		styles:   DefaultStyles(),
		help:     help.New(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		appName:  cfg.AppName,
		interval: cfg.Interval,
		ttl:      cfg.BannerTTL,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.ttl <= 0 {
		m.ttl = DefaultBannerTTL
	}
	if m.appName == "" {
		m.appName = notify.DefaultTitle
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick(), m.waitAlarm())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return MsgTick{At: t}
	})
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		if m.source == nil {
			return MsgCountdownsLoaded{}
		}
		items, err := m.source.Countdowns(context.Background())
		if err != nil {
			return MsgError{Err: err}
		}
		return MsgCountdownsLoaded{Items: items}
	}
}

func (m *Model) waitAlarm() tea.Cmd {
	if m.alarms == nil {
		return nil
	}
	ch := m.alarms
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return MsgAlarm{Notification: n}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case MsgTick:
		m.expireBanners()
		return m, tea.Batch(m.load(), m.tick())

	case MsgCountdownsLoaded:
		m.items = msg.Items
		m.err = nil

	case MsgError:
		m.err = msg.Err

	case MsgAlarm:
		m.banners = append(m.banners, banner{notification: msg.Notification, shownAt: m.now()})
		return m, tea.Batch(m.load(), m.waitAlarm())
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()
	case key.Matches(msg, m.keys.Dismiss):
		m.banners = nil
	}
	return m, nil
}

// expireBanners drops banners shown for at least the TTL.
func (m *Model) expireBanners() {
	now := m.now()
	kept := m.banners[:0]
	for _, b := range m.banners {
		if now.Sub(b.shownAt) < m.ttl {
			kept = append(kept, b)
		}
	}
	m.banners = kept
}

// Items returns the countdowns currently displayed.
func (m *Model) Items() []engine.CountdownInfo { return m.items }

// Banners returns the notifications currently displayed.
func (m *Model) Banners() []notify.Notification {
	out := make([]notify.Notification, 0, len(m.banners))
	for _, b := range m.banners {
		out = append(out, b.notification)
	}
	return out
}

// Run starts the program on the terminal and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
