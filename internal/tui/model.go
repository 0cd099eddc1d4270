package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/domain"
	"ragchat/internal/session"
)

// ChatPort is the TUI-facing subset of the session.
type ChatPort interface {
	UploadFile(ctx context.Context, path string) (*session.KnowledgeBase, error)
	Ask(ctx context.Context, question string) (session.Answer, error)
	History() []domain.ChatTurn
	NewChat()
	ClearHistory()
	SaveHistory(path string) (string, error)
	State() session.State
}

// ReloadMsg asks the model to (re)load the knowledge base at Path, as if the
// user had typed /upload Path.
type ReloadMsg struct {
	Path string
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusSuccess
	statusWarning
	statusError
)

const helpText = "Commands: /upload <file.txt>  /new  /clear  /save [file]  /help  /quit"

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx        context.Context
	service    ChatPort
	input      textinput.Model
	viewport   viewport.Model
	answer     *session.Answer
	kbInfo     string
	summary    string
	status     string
	statusKind statusKind
	exportPath string
	width      int
	ready      bool
}

// New creates a new TUI model instance.
func New(ctx context.Context, service ChatPort, exportPath string) Model {
	ti := textinput.New()
	ti.Prompt = "❓ "
	ti.Placeholder = "Ask a question or type /help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{
		ctx:        ctx,
		service:    service,
		input:      ti,
		viewport:   vp,
		exportPath: exportPath,
		kbInfo:     "No knowledge base loaded",
		status:     "Upload a knowledge base with /upload <file.txt>, then ask away.",
	}
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 + 1 // header + summary, status, input frame, input line, spacer
		m.viewport.Width = max(20, m.resultsWidth()-resultBoxStyle.GetHorizontalFrameSize())
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.input.Width = max(10, msg.Width-queryBoxStyle.GetHorizontalFrameSize()-lipgloss.Width(m.input.Prompt)-1)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case ReloadMsg:
		m.upload(msg.Path)
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(line, "/") {
				return m, m.runCommand(line)
			}
			m.ask(line)
			return m, nil
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch strings.ToLower(fields[0]) {
	case "/upload", "/load":
		if arg == "" {
			m.setStatus(statusWarning, "⚠️ Usage: /upload <file.txt>")
			return nil
		}
		m.upload(arg)
	case "/new":
		m.service.NewChat()
		m.answer = nil
		m.setStatus(statusSuccess, "✨ Started a new chat!")
	case "/clear":
		m.service.ClearHistory()
		m.answer = nil
		m.setStatus(statusSuccess, "✅ Chat history cleared!")
	case "/save", "/download":
		path := arg
		if path == "" {
			path = m.exportPath
		}
		written, err := m.service.SaveHistory(path)
		switch {
		case errors.Is(err, domain.ErrEmptyHistory):
			m.setStatus(statusWarning, "⚠️ Chat history is empty!")
		case err != nil:
			m.setStatus(statusError, "Error: "+err.Error())
		default:
			m.setStatus(statusSuccess, "💾 Chat history saved to "+written)
		}
	case "/help":
		m.setStatus(statusInfo, helpText)
	case "/quit", "/exit":
		return tea.Quit
	default:
		m.setStatus(statusWarning, fmt.Sprintf("⚠️ Unknown command %s. %s", fields[0], helpText))
	}
	m.viewport.SetContent(m.renderAnswer())
	return nil
}

func (m *Model) upload(path string) {
	kb, err := m.service.UploadFile(m.ctx, path)
	if err != nil {
		m.setStatus(statusError, "Upload failed: "+err.Error())
		return
	}
	m.kbInfo = fmt.Sprintf("📂 %s · %d facts", filepath.Base(kb.Source), len(kb.Facts))
	m.summary = kb.Summary
	m.setStatus(statusSuccess, "✅ Knowledge base uploaded and indexed!")
}

func (m *Model) ask(question string) {
	ans, err := m.service.Ask(m.ctx, question)
	if err != nil {
		m.setStatus(statusError, "Error: "+err.Error())
		return
	}
	m.answer = &ans
	if ans.Ready {
		m.setStatus(statusSuccess, "🎯 Top relevant facts:")
	} else {
		m.setStatus(statusWarning, ans.Lines[0])
	}
	m.viewport.SetContent(m.renderAnswer())
	m.viewport.GotoTop()
}

func (m *Model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

// View renders the TUI layout: header, results next to history, input and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("🤖 RAG Chatbot") + "  " + subtleStyle.Render(m.kbInfo)
	summary := subtleStyle.Render(truncate(m.summary, max(10, m.width)))
	results := resultBoxStyle.Render(m.viewport.View())
	sidebar := sidebarStyle.
		Width(max(10, m.width-lipgloss.Width(results)-sidebarStyle.GetHorizontalFrameSize())).
		Height(m.viewport.Height).
		Render(m.renderHistory())
	body := lipgloss.JoinHorizontal(lipgloss.Top, results, sidebar)
	input := queryBoxStyle.Render(m.input.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + m.renderStatus()
}

func (m Model) resultsWidth() int {
	if m.width < 60 {
		return m.width
	}
	return m.width * 2 / 3
}

func (m Model) renderStatus() string {
	style := statusStyles[m.statusKind]
	return style.Render(m.status)
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "Ask a question about your uploaded knowledge base and get the most relevant facts!"
	}
	var b strings.Builder
	b.WriteString(boldStyle.Render("Q: " + m.answer.Question))
	b.WriteString("\n\n")
	if !m.answer.Ready {
		b.WriteString(warningStyle.Render(m.answer.Lines[0]))
		return b.String()
	}
	for i, r := range m.answer.Results {
		fmt.Fprintf(&b, "%s %s %s\n", boldStyle.Render(fmt.Sprintf("%d.", i+1)),
			highlightTerms(r.Fact.Text, m.answer.Question),
			subtleStyle.Render(fmt.Sprintf("(%.3f)", r.Score)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderHistory() string {
	turns := m.service.History()
	var b strings.Builder
	b.WriteString(boldStyle.Render("📝 Chat History"))
	b.WriteString("\n")
	if len(turns) == 0 {
		b.WriteString(subtleStyle.Render("No chat history yet. Start asking questions!"))
		return b.String()
	}
	// Newest last, but keep the tail visible when the list is long
	start := 0
	if limit := max(1, m.viewport.Height/3); len(turns) > limit {
		start = len(turns) - limit
	}
	for i := start; i < len(turns); i++ {
		t := turns[i]
		first, _, _ := strings.Cut(t.Answer, "\n")
		fmt.Fprintf(&b, "%s %s\n%s\n", boldStyle.Render(fmt.Sprintf("Q%d:", i+1)), t.Question, italicStyle.Render(first))
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	boldStyle      = lipgloss.NewStyle().Bold(true)
	italicStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("7"))
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sidebarStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	statusStyles   = map[statusKind]lipgloss.Style{
		statusInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		statusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		statusWarning: warningStyle,
		statusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
	unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// highlightTerms emphasises the words of text that also occur in query.
func highlightTerms(text, query string) string {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	return unicodeWordRe.ReplaceAllStringFunc(text, func(word string) string {
		if _, ok := qTokens[strings.ToLower(word)]; ok {
			return highlightStyle.Render(word)
		}
		return word
	})
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
