// Package tui is the terminal editor: a bubbletea program that shows a shared
// document and turns key presses into operations.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
	"github.com/burntcarrot/otpad/ot"
)

// TextKey is the data key the editor reads and writes in every block.
const TextKey = "text"

// Session is the editing session behind the editor. *client.Collaboration
// implements it.
type Session interface {
	Apply(op ot.Operation) error
	Undo() error
	Redo() error
	View(fn func(tree document.Tree))
	SendCaret(idx index.Index) error
	Rev() int
	Pending() int
	CanUndo() bool
	CanRedo() bool
}

// ChangedMsg tells the editor the document changed.
type ChangedMsg struct{}

// CaretMsg carries another user's caret position.
type CaretMsg commons.Caret

type (
	errMsg    error
	joinedMsg struct {
		user    string
		session Session
	}
)

// Options configures the editor.
type Options struct {
	Document string

	// User is the user name. When empty the editor asks for one.
	User string

	// Join opens the session for user.
	Join func(user string) (Session, error)

	Logger logrus.FieldLogger
}

var (
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	caretColors = []lipgloss.Color{"5", "3", "2", "4", "9", "13"}
)

type model struct {
	opts Options

	login   textinput.Model
	editor  *Editor
	session Session
	user    string

	bold   [][]index.TextRange
	carets map[string]index.Index
	status string

	err      error
	quitting bool
}

// New returns the editor model.
func New(opts Options) tea.Model {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	ti := textinput.New()
	ti.Placeholder = "Username"
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 20

	return model{
		opts:   opts,
		login:  ti,
		editor: NewEditor(),
		carets: make(map[string]index.Index),
	}
}

func (m model) Init() tea.Cmd {
	if m.opts.User != "" {
		return m.join(m.opts.User)
	}
	return textinput.Blink
}

func (m model) join(user string) tea.Cmd {
	return func() tea.Msg {
		session, err := m.opts.Join(user)
		if err != nil {
			return errMsg(err)
		}
		return joinedMsg{user: user, session: session}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.editor.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		}
		if m.session == nil {
			if msg.Type == tea.KeyEnter && strings.TrimSpace(m.login.Value()) != "" {
				return m, m.join(strings.TrimSpace(m.login.Value()))
			}
			var cmd tea.Cmd
			m.login, cmd = m.login.Update(msg)
			return m, cmd
		}
		m.handleKey(msg)
		return m, nil

	case joinedMsg:
		m.session = msg.session
		m.user = msg.user
		m.status = "joined " + m.opts.Document
		m.refresh()
		return m, nil

	case ChangedMsg:
		m.refresh()
		return m, nil

	case CaretMsg:
		if msg.UserID == m.user {
			return m, nil
		}
		idx, err := index.Parse(msg.Index)
		if err != nil {
			m.opts.Logger.WithError(err).Warn("skipping caret")
			return m, nil
		}
		m.carets[msg.UserID] = idx
		return m, nil

	case errMsg:
		m.err = msg
		return m, nil
	}

	if m.session == nil {
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey turns a key press into a cursor move or an operation.
func (m *model) handleKey(msg tea.KeyMsg) {
	e := m.editor

	switch msg.Type {
	case tea.KeyLeft:
		e.MoveCursor(-1, 0)
	case tea.KeyRight:
		e.MoveCursor(1, 0)
	case tea.KeyUp:
		e.MoveCursor(0, -1)
	case tea.KeyDown:
		e.MoveCursor(0, 1)
	case tea.KeyHome:
		e.Home()
	case tea.KeyEnd:
		e.End()

	case tea.KeyRunes, tea.KeySpace:
		s := string(msg.Runes)
		if msg.Type == tea.KeySpace {
			s = " "
		}
		m.insertText(s)

	case tea.KeyTab:
		m.insertText("    ")

	case tea.KeyBackspace:
		m.backspace()

	case tea.KeyDelete:
		line := e.Line()
		if e.Cursor < len(line) {
			idx := index.Text(m.opts.Document, e.Block, TextKey, e.Cursor, e.Cursor+1)
			m.apply(ot.NewDelete(idx, string(line[e.Cursor]), m.user))
		}

	case tea.KeyEnter:
		m.newBlock()

	case tea.KeyCtrlB:
		m.toggleBold()

	case tea.KeyCtrlZ:
		if err := m.session.Undo(); err != nil {
			m.status = err.Error()
		}
		m.refresh()

	case tea.KeyCtrlY:
		if err := m.session.Redo(); err != nil {
			m.status = err.Error()
		}
		m.refresh()
	}

	if err := m.session.SendCaret(index.Text(m.opts.Document, e.Block, TextKey, e.Cursor, e.Cursor)); err != nil {
		m.opts.Logger.WithError(err).Debug("caret not sent")
	}
}

func (m *model) insertText(s string) {
	e := m.editor
	if len(e.Lines) == 0 {
		m.newBlock()
	}
	block, cursor := e.Block, e.Cursor
	idx := index.Text(m.opts.Document, block, TextKey, cursor, cursor)
	if m.apply(ot.NewInsert(idx, s, m.user)) {
		e.Place(block, cursor+len([]rune(s)))
	}
}

// backspace removes the rune before the caret, or the block itself when it is empty.
func (m *model) backspace() {
	e := m.editor
	line := e.Line()
	block, cursor := e.Block, e.Cursor

	switch {
	case cursor > 0:
		idx := index.Text(m.opts.Document, block, TextKey, cursor-1, cursor)
		if m.apply(ot.NewDelete(idx, string(line[cursor-1]), m.user)) {
			e.Place(block, cursor-1)
		}

	case block > 0 && len(line) == 0:
		empty := document.BlockData{Name: "paragraph", Data: map[string]any{TextKey: ""}}
		if m.apply(ot.NewDelete(index.Block(m.opts.Document, block), []document.BlockData{empty}, m.user)) {
			e.Place(block-1, len(e.Lines[block-1]))
		}
	}
}

// newBlock inserts an empty paragraph after the caret's block.
func (m *model) newBlock() {
	e := m.editor
	at := e.Block + 1
	if len(e.Lines) == 0 {
		at = 0
	}
	block := document.BlockData{Name: "paragraph", Data: map[string]any{TextKey: ""}}
	if m.apply(ot.NewInsert(index.Block(m.opts.Document, at), []document.BlockData{block}, m.user)) {
		e.Place(at, 0)
	}
}

// toggleBold formats the whole block bold, or clears bold if it already has it.
func (m *model) toggleBold() {
	e := m.editor
	line := e.Line()
	if len(line) == 0 {
		return
	}

	idx := index.Text(m.opts.Document, e.Block, TextKey, 0, len(line))
	bold := document.Format{Tool: "bold"}
	if e.Block < len(m.bold) && len(m.bold[e.Block]) > 0 {
		m.apply(ot.NewModify(idx, nil, bold, m.user))
		return
	}
	m.apply(ot.NewModify(idx, bold, nil, m.user))
}

// apply performs a local operation and reports whether it succeeded.
func (m *model) apply(op ot.Operation) bool {
	if err := m.session.Apply(op); err != nil {
		m.status = err.Error()
		m.opts.Logger.WithError(err).Warn("local operation failed")
		m.refresh()
		return false
	}
	m.refresh()
	return true
}

// refresh reloads the lines and formatting from the document.
func (m *model) refresh() {
	if m.session == nil {
		return
	}

	var snapshot document.Snapshot
	m.session.View(func(tree document.Tree) {
		snapshot = tree.Serialized()
	})

	lines := make([]string, len(snapshot.Blocks))
	m.bold = make([][]index.TextRange, len(snapshot.Blocks))
	for i, b := range snapshot.Blocks {
		lines[i], _ = b.Data[TextKey].(string)
		for _, f := range b.Fragments[TextKey] {
			if f.Tool == "bold" {
				m.bold[i] = append(m.bold[i], f.Range)
			}
		}
	}
	m.editor.SetLines(lines)
}

///////////////
// Views
///////////////

func loginView(m model) string {
	return fmt.Sprintf(
		"Enter username:\n\n%s\n\n%s",
		m.login.View(),
		"(esc to quit)",
	) + "\n"
}

func (m model) editorView() string {
	e := m.editor
	var b strings.Builder

	rows := len(e.Lines)
	if e.Height > 1 {
		rows = min(rows, e.RowOff+e.Height-1)
	}
	for i := e.RowOff; i < rows; i++ {
		b.WriteString(m.renderLine(i))
		b.WriteString("\n")
	}

	status := fmt.Sprintf(" %s @ %s | rev %d | pending %d%s | %s", m.user, m.opts.Document, m.session.Rev(), m.session.Pending(), historyHint(m.session), m.status)
	b.WriteString(statusStyle.Render(status))
	return b.String()
}

// historyHint lists the history keys that would do something.
func historyHint(s Session) string {
	var keys []string
	if s.CanUndo() {
		keys = append(keys, "^z undo")
	}
	if s.CanRedo() {
		keys = append(keys, "^y redo")
	}
	if len(keys) == 0 {
		return ""
	}
	return " | " + strings.Join(keys, " ")
}

// renderLine draws one block with the local caret, other users' carets and bold runs.
func (m model) renderLine(block int) string {
	e := m.editor
	line := e.Lines[block]

	others := make(map[int]lipgloss.Style)
	for user, idx := range m.carets {
		b, ok := idx.Block()
		r, hasRange := idx.Range()
		if ok && hasRange && b == block {
			others[r.Start()] = lipgloss.NewStyle().Background(colorFor(user))
		}
	}

	var b strings.Builder
	for pos := 0; pos <= len(line); pos++ {
		local := block == e.Block && pos == e.Cursor
		other, hasOther := others[pos]

		if pos == len(line) {
			switch {
			case local:
				b.WriteString(cursorStyle.Render(" "))
			case hasOther:
				b.WriteString(other.Render(" "))
			}
			break
		}

		cell := string(line[pos])
		bold := inRanges(m.boldAt(block), pos)
		switch {
		case local:
			b.WriteString(cursorStyle.Copy().Bold(bold).Render(cell))
		case hasOther:
			b.WriteString(other.Copy().Bold(bold).Render(cell))
		case bold:
			b.WriteString(boldStyle.Render(cell))
		default:
			b.WriteString(cell)
		}
	}
	return b.String()
}

// colorFor picks a stable caret color for a user.
func colorFor(user string) lipgloss.Color {
	sum := 0
	for _, r := range user {
		sum += int(r)
	}
	return caretColors[sum%len(caretColors)]
}

func (m model) boldAt(block int) []index.TextRange {
	if block < len(m.bold) {
		return m.bold[block]
	}
	return nil
}

func inRanges(ranges []index.TextRange, pos int) bool {
	for _, r := range ranges {
		if pos >= r.Start() && pos < r.End() {
			return true
		}
	}
	return false
}

func (m model) View() string {
	if m.quitting {
		return "\n  See you later!\n\n"
	}

	var s string
	if m.session == nil {
		s = loginView(m)
	} else {
		s = m.editorView()
	}
	if m.err != nil {
		s += "\n" + errorStyle.Render(m.err.Error()) + "\n"
	}
	return s
}
