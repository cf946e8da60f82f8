// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/axdp"
	"github.com/radiogear/paxterm/pkg/link"
)

var connectCmd = &cobra.Command{
	Use:     "connect <remote-callsign>",
	Aliases: []string{"chat"},
	Short:   "Open an interactive connected-mode terminal to a station",
	Long: `Establish a connected-mode AX.25 link and open an interactive terminal.

Typed lines are delivered reliably to the remote station as chat
messages. Incoming chat and plain text from the peer are shown in the
scrollback, along with link state changes and live link statistics
(outstanding frames, retransmissions, smoothed round-trip time).

Key bindings:
  enter   - send the current line
  ctrl+d  - disconnect the link and exit
  ctrl+c  - force quit without disconnecting`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

// Terminal scrollback entry
type termLogEntry struct {
	timestamp time.Time
	message   string
	kind      termLogKind
}

type termLogKind int

const (
	logLocal termLogKind = iota
	logRemote
	logStatus
	logError
)

// Messages delivered into the TUI from the link engine
type termTickMsg time.Time
type linkStateMsg struct {
	state  link.State
	reason string
}
type remoteLineMsg struct {
	text string
}
type linkStatsMsg struct {
	outstanding int
	pending     int
	retrans     uint64
	srtt        time.Duration
}
type engineDownMsg struct {
	err error
}

// termModel is the state of the connected-mode terminal.
type termModel struct {
	remote        string
	connInfo      string
	linkState     link.State
	stateReason   string
	input         string
	scrollback    []termLogEntry
	maxLogEntries int
	stats         linkStatsMsg
	width         int
	height        int
	quitting      bool

	sendLine   func(string)
	disconnect func()
}

func newTermModel(remote, connInfo string) termModel {
	return termModel{
		remote:        remote,
		connInfo:      connInfo,
		linkState:     link.StateConnecting,
		scrollback:    make([]termLogEntry, 0),
		maxLogEntries: 500,
		width:         80,
		height:        24,
	}
}

func (m termModel) Init() tea.Cmd {
	return tea.Batch(
		termTickCmd(),
		tea.EnterAltScreen,
	)
}

func termTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return termTickMsg(t)
	})
}

func (m termModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "ctrl+d":
			m.addLog("disconnecting...", logStatus)
			if m.disconnect != nil {
				m.disconnect()
			}
			return m, nil
		case "enter":
			line := strings.TrimSpace(m.input)
			m.input = ""
			if line == "" {
				return m, nil
			}
			if m.linkState != link.StateConnected {
				m.addLog("not connected", logError)
				return m, nil
			}
			m.addLog(line, logLocal)
			if m.sendLine != nil {
				m.sendLine(line)
			}
			return m, nil
		case "backspace":
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		default:
			switch msg.Type {
			case tea.KeySpace:
				m.input += " "
			case tea.KeyRunes:
				m.input += string(msg.Runes)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case termTickMsg:
		return m, termTickCmd()

	case linkStateMsg:
		m.linkState = msg.state
		m.stateReason = msg.reason
		text := fmt.Sprintf("link %s", msg.state)
		if msg.reason != "" {
			text += ": " + msg.reason
		}
		kind := logStatus
		if msg.state == link.StateError {
			kind = logError
		}
		m.addLog(text, kind)
		if msg.state == link.StateDisconnected || msg.state == link.StateError {
			m.quitting = true
			return m, tea.Quit
		}

	case remoteLineMsg:
		m.addLog(msg.text, logRemote)

	case linkStatsMsg:
		m.stats = msg

	case engineDownMsg:
		m.addLog(fmt.Sprintf("connection lost: %v", msg.err), logError)
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *termModel) addLog(message string, kind termLogKind) {
	m.scrollback = append(m.scrollback, termLogEntry{
		timestamp: time.Now(),
		message:   message,
		kind:      kind,
	})
	if len(m.scrollback) > m.maxLogEntries {
		m.scrollback = m.scrollback[len(m.scrollback)-m.maxLogEntries:]
	}
}

func (m termModel) View() string {
	if m.quitting {
		return "Link closed.\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	localStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	remoteStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("14"))

	statusStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("PAXTERM - %s", m.remote)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | ctrl+d disconnect, ctrl+c quit",
		m.connInfo, m.linkState)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("out %d  queued %d  retrans %d  srtt %s",
		m.stats.outstanding, m.stats.pending, m.stats.retrans,
		m.stats.srtt.Round(time.Millisecond))))
	s.WriteString("\n\n")

	logHeight := m.height - 7
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.scrollback) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	for i := startIdx; i < len(m.scrollback); i++ {
		entry := m.scrollback[i]
		ts := headerStyle.Render(entry.timestamp.Format("15:04:05"))
		switch entry.kind {
		case logLocal:
			s.WriteString(fmt.Sprintf("%s %s %s\n", ts, localStyle.Render(">"), entry.message))
		case logRemote:
			s.WriteString(fmt.Sprintf("%s %s %s\n", ts, remoteStyle.Render("<"), remoteStyle.Render(entry.message)))
		case logStatus:
			s.WriteString(fmt.Sprintf("%s %s\n", ts, statusStyle.Render("* "+entry.message)))
		case logError:
			s.WriteString(fmt.Sprintf("%s %s\n", ts, errorStyle.Render("! "+entry.message)))
		}
	}

	s.WriteString("\n")
	s.WriteString(promptStyle.Render("> "))
	s.WriteString(m.input)
	s.WriteString(promptStyle.Render("_"))

	return s.String()
}

func runConnect(cmd *cobra.Command, args []string) error {
	local, err := localStation()
	if err != nil {
		return err
	}
	remote, err := ax25.ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("invalid remote callsign %q: %v", args[0], err)
	}
	path, err := viaAddresses()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var p *tea.Program
	dup := axdp.NewDupTracker(1024)
	sessionID := uint32(time.Now().Unix())
	nextChatID := uint32(0)

	var e *engine
	var key link.SessionKey

	cb := link.Callbacks{
		OnStateChange: func(k link.SessionKey, state link.State, reason string) {
			p.Send(linkStateMsg{state: state, reason: reason})
		},
		OnData: func(k link.SessionKey, payload []byte) {
			// Runs on the engine loop; replies may be sent directly.
			rest := payload
			for len(rest) > 0 {
				msg, n, err := axdp.DecodeMessage(rest)
				if err != nil {
					// Not an application message; show it as raw text.
					p.Send(remoteLineMsg{text: strings.TrimRight(string(rest), "\r\n")})
					return
				}
				switch msg.Type {
				case axdp.MsgChat:
					if !dup.Seen(msg.SessionID, msg.MessageID) {
						p.Send(remoteLineMsg{text: string(msg.Payload)})
					}
				case axdp.MsgPing:
					pong := &axdp.Message{Type: axdp.MsgPong, SessionID: msg.SessionID, MessageID: msg.MessageID}
					_ = e.Mgr.SendData(k, pong.Encode())
				}
				rest = rest[n:]
			}
		},
	}

	e = newEngine(conn, local, sessionConfig(), cb)

	model := newTermModel(remote.String(), connInfo)
	model.sendLine = func(line string) {
		e.post(func() {
			nextChatID++
			msg := &axdp.Message{
				Type:      axdp.MsgChat,
				SessionID: sessionID,
				MessageID: nextChatID,
				Payload:   []byte(line),
			}
			if err := e.Mgr.SendData(key, msg.Encode()); err != nil {
				p.Send(linkStateMsg{state: link.StateError, reason: err.Error()})
			}
		})
	}
	model.disconnect = func() {
		e.post(func() { _ = e.Mgr.Disconnect(key) })
	}

	p = tea.NewProgram(model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := e.run(ctx)
		if err != nil && ctx.Err() == nil {
			p.Send(engineDownMsg{err: err})
		}
	}()

	// Stats refresher: sample session counters once a second.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.post(func() {
					s, ok := e.Mgr.Session(key)
					if !ok {
						return
					}
					p.Send(linkStatsMsg{
						outstanding: s.OutstandingLen(),
						pending:     s.PendingLen(),
						retrans:     s.Stats.Retransmissions,
						srtt:        s.T1.SRTT(),
					})
				})
			}
		}
	}()

	e.do(func() {
		key, err = e.Mgr.Connect(remote, path, channel)
	})
	if err != nil {
		return err
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal error: %v", err)
	}
	return nil
}
