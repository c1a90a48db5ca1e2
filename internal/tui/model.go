package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/service"
	"docqa/internal/summarizer"
)

// Service is the TUI-facing subset of service.RAG.
type Service interface {
	Ask(ctx context.Context, question string) (service.Answer, error)
	Ingest(ctx context.Context, paths []string) (service.IngestReport, error)
	Sources() []string
	Ready() bool
}

const addCommand = ":add"

type answerMsg struct {
	query  string
	answer service.Answer
	err    error
}

type ingestMsg struct {
	report service.IngestReport
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	service  Service
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	preview  *summarizer.Frequency

	sources   []string
	answer    *service.Answer
	lastQuery string
	cursor    int
	expanded  map[int]bool
	busy      bool
	status    string
	ready     bool
	width     int
}

// New creates a new TUI model. startupErr, if any, is shown in the status line.
func New(ctx context.Context, svc Service, startupErr error) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or :add file.pdf file.docx"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		ctx:      ctx,
		service:  svc,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		preview:  summarizer.NewFrequency(160),
		sources:  svc.Sources(),
		expanded: map[int]bool{},
	}
	switch {
	case startupErr != nil:
		m.status = service.UserMessage(startupErr)
	case !svc.Ready():
		m.status = "The knowledge base is empty. Use :add <files> to add documents."
	default:
		m.status = fmt.Sprintf("%d documents indexed. Type a question.", len(m.sources))
	}
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and background-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-sidebarWidth-4)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case answerMsg:
		m.busy = false
		m.lastQuery = msg.query
		m.cursor = 0
		m.expanded = map[int]bool{}
		if msg.err != nil {
			m.answer = nil
			m.status = service.UserMessage(msg.err)
		} else {
			a := msg.answer
			m.answer = &a
			m.status = fmt.Sprintf("Answer for %q (%d passages)", msg.query, len(a.Citations))
		}
		m.refresh()
		return m, nil

	case ingestMsg:
		m.busy = false
		m.sources = m.service.Sources()
		if msg.err != nil {
			m.status = service.UserMessage(msg.err)
		} else {
			m.status = ingestStatus(msg.report)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "down":
			if n := m.citations(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
				return m, nil
			}
		case "up":
			if n := m.citations(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		case "tab":
			if m.citations() > 0 {
				m.expanded[m.cursor] = !m.expanded[m.cursor]
				m.refresh()
				return m, nil
			}
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.busy {
		return m, nil
	}
	m.input.SetValue("")
	m.busy = true
	if fields := strings.Fields(line); fields[0] == addCommand {
		if len(fields) == 1 {
			m.busy = false
			m.status = "Usage: :add <file.pdf|file.docx>..."
			return m, nil
		}
		m.status = "Processing documents and updating knowledge base..."
		return m, tea.Batch(m.ingestCmd(fields[1:]), m.spinner.Tick)
	}
	m.status = "Searching for answers..."
	return m, tea.Batch(m.askCmd(line), m.spinner.Tick)
}

func (m Model) askCmd(q string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.service.Ask(m.ctx, q)
		return answerMsg{query: q, answer: ans, err: err}
	}
}

func (m Model) ingestCmd(paths []string) tea.Cmd {
	return func() tea.Msg {
		rep, err := m.service.Ingest(m.ctx, paths)
		return ingestMsg{report: rep, err: err}
	}
}

func (m Model) citations() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Citations)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderAnswer())
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Document Q&A")
	sidebar := sidebarStyle.Height(m.viewport.Height).Render(m.renderSources())
	results := resultBoxStyle.Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, results)
	input := queryBoxStyle.Width(max(20, m.width-2)).Render(m.input.View())
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderSources() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Indexed Documents"))
	b.WriteString("\n")
	if len(m.sources) == 0 {
		b.WriteString(dimStyle.Render("No documents have been indexed yet."))
		return b.String()
	}
	for _, s := range m.sources {
		b.WriteString("• " + s + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return dimStyle.Render("No answer yet. Type a question and press Enter.")
	}
	width := max(10, m.viewport.Width-2)
	var b strings.Builder
	b.WriteString(titleStyle.Render("Answer:"))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Width(width).Render(m.answer.Text))
	if len(m.answer.Citations) == 0 {
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("Retrieved Passages and Citations:"))
	b.WriteString(dimStyle.Render("  (up/down select, tab expand)"))
	for i, c := range m.answer.Citations {
		marker := "▸"
		if m.expanded[i] {
			marker = "▾"
		}
		label := fmt.Sprintf("%s %s  (distance %.3f)", marker, service.CitationLabel(i+1, c), c.Score)
		if i == m.cursor {
			label = selectedStyle.Render(label)
		}
		b.WriteString("\n" + label + "\n")
		var text string
		if m.expanded[i] {
			text = highlightBestSentence(c.Chunk.Text, m.lastQuery)
		} else {
			text = dimStyle.Render(m.preview.Preview(c.Chunk.Text, 1))
		}
		b.WriteString(lipgloss.NewStyle().Width(width).PaddingLeft(2).Render(text))
	}
	return b.String()
}

func ingestStatus(r service.IngestReport) string {
	var parts []string
	switch {
	case len(r.Staged) == 0 && len(r.Rejected) > 0:
		return "No supported files given. Only .pdf and .docx are accepted."
	case r.Files == 0:
		parts = append(parts, "No new documents to process.")
	default:
		parts = append(parts, fmt.Sprintf("Knowledge base updated: %d files, %d entries.", r.Files, r.Entries))
	}
	if len(r.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("%d files could not be read.", len(r.Skipped)))
	}
	if len(r.Rejected) > 0 {
		parts = append(parts, fmt.Sprintf("%d unsupported files ignored.", len(r.Rejected)))
	}
	return strings.Join(parts, " ")
}

const sidebarWidth = 28

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	sidebarStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(sidebarWidth)
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := summarizer.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
