package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/byosamah/volteria-sub000/internal/client"
	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/pollers"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live connectivity view of the fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		controllers, err := c.ListControllers(ctx, "")
		if err != nil {
			return err
		}

		updates := make(chan []string, 1)
		poller := pollers.NewHeartbeatPoller(c, pollers.NewHeartbeatStore(), pollers.HeartbeatConfig(), func(changed []string) {
			select {
			case updates <- changed:
			default:
			}
		})
		if err := poller.Start(ctx); err != nil {
			return err
		}
		defer poller.Stop()

		m := newWatchModel(ctx, c, poller, updates, controllers, newStyles(theme))
		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx)).Run()
		return err
	},
}

type (
	heartbeatsMsg  struct{ changed int }
	pausedMsg      struct{ paused bool }
	watchTickMsg   time.Time
	controllersMsg struct {
		controllers []client.Controller
		err         error
	}
)

type watchModel struct {
	ctx     context.Context
	client  *client.Client
	poller  *pollers.HeartbeatPoller
	updates <-chan []string
	styles  styles
	spinner spinner.Model

	controllers []client.Controller
	now         time.Time
	lastUpdate  time.Time
	err         error

	paused bool
	// held is set by the p key; focus changes never resume a held poller.
	held bool
}

func newWatchModel(ctx context.Context, c *client.Client, p *pollers.HeartbeatPoller, updates <-chan []string, controllers []client.Controller, st styles) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Title
	sortControllers(controllers)
	return watchModel{
		ctx:         ctx,
		client:      c,
		poller:      p,
		updates:     updates,
		styles:      st,
		spinner:     sp,
		controllers: controllers,
		now:         time.Now(),
	}
}

func sortControllers(cs []client.Controller) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].SerialNumber < cs[j].SerialNumber })
}

func waitForHeartbeats(ch <-chan []string) tea.Cmd {
	return func() tea.Msg {
		changed, ok := <-ch
		if !ok {
			return nil
		}
		return heartbeatsMsg{changed: len(changed)}
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) reload() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		if err := m.poller.RunNow(ctx); err != nil {
			logging.WarnWithComponent(logging.ComponentCLI, "Manual heartbeat refresh failed", "error", err)
		}
		cs, err := m.client.ListControllers(ctx, "")
		return controllersMsg{controllers: cs, err: err}
	}
}

// setPaused runs off the update loop: pausing waits for an in-flight fetch.
func (m watchModel) setPaused(pause bool) tea.Cmd {
	return func() tea.Msg {
		var err error
		if pause {
			err = m.poller.Pause()
		} else {
			err = m.poller.Resume()
		}
		if err != nil {
			logging.WarnWithComponent(logging.ComponentCLI, "Heartbeat poller state change failed", "pause", pause, "error", err)
		}
		return pausedMsg{paused: m.poller.Paused()}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForHeartbeats(m.updates), watchTick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// RunE stops the poller after the program exits.
			return m, tea.Quit
		case "p":
			m.held = !m.held
			return m, m.setPaused(m.held)
		case "r":
			return m, m.reload()
		}
	case tea.BlurMsg:
		return m, m.setPaused(true)
	case tea.FocusMsg:
		if m.held {
			return m, nil
		}
		return m, m.setPaused(false)
	case pausedMsg:
		m.paused = msg.paused
		return m, nil
	case heartbeatsMsg:
		m.lastUpdate = time.Now()
		return m, waitForHeartbeats(m.updates)
	case controllersMsg:
		m.err = msg.err
		if msg.err == nil {
			sortControllers(msg.controllers)
			m.controllers = msg.controllers
		}
		return m, nil
	case watchTickMsg:
		m.now = time.Time(msg)
		return m, watchTick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// lastSeen prefers the polled value and falls back to what the list returned.
func (m watchModel) lastSeen(ctrl client.Controller) *time.Time {
	if ts := m.poller.Store().Get(ctrl.ID); ts != nil {
		return ts
	}
	return ctrl.Connectivity.LastHeartbeat
}

func (m watchModel) View() string {
	var b strings.Builder
	s := m.styles

	state := m.spinner.View() + " polling"
	if m.paused {
		state = s.Warning.Render("paused")
	}
	updated := "waiting for first poll"
	if !m.lastUpdate.IsZero() {
		updated = "updated " + connectivity.Label(&m.lastUpdate, m.now)
	}
	fmt.Fprintf(&b, "%s  %s  %s\n\n", s.Title.Render("Volteria fleet"), state, s.Subtitle.Render(updated))

	online := 0
	fmt.Fprintf(&b, "%s\n", s.Header.Render(fmt.Sprintf("%-20s %-12s %-16s %-8s %s", "SERIAL", "STATUS", "HARDWARE", "ONLINE", "LAST SEEN")))
	for _, ctrl := range m.controllers {
		st := connectivity.Classify(m.lastSeen(ctrl), m.now)
		dot := s.Offline.Render("○ offline")
		if st.Online {
			online++
			dot = s.Online.Render("● online ")
		}
		fmt.Fprintf(&b, "%-20s %-12s %-16s %s %s\n", ctrl.SerialNumber, ctrl.Status, ctrl.HardwareTypeID, dot, st.Label)
	}
	if len(m.controllers) == 0 {
		b.WriteString(s.Subtitle.Render("No controllers visible to this account") + "\n")
	}

	fmt.Fprintf(&b, "\n%d of %d online", online, len(m.controllers))
	if m.err != nil {
		fmt.Fprintf(&b, "\n%s", s.Error.Render(m.err.Error()))
	}
	b.WriteString(s.Help.Render("p pause/resume • r refresh • q quit"))
	return b.String()
}
