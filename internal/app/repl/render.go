package repl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"AssistantChat/internal/service/chat"
)

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Renderer печатает реплики истории. Markdown рендерится только в терминал.
type Renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func NewRenderer(out io.Writer, markdown bool) *Renderer {
	r := &Renderer{out: out}
	if markdown && isTerminal(out) {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Turn печатает одну реплику с меткой роли.
func (r *Renderer) Turn(t chat.Turn) {
	if t.IsUser() {
		content := t.Content
		if t.IsImage() {
			content = infoStyle.Render(content)
		}
		fmt.Fprintf(r.out, "%s %s\n", userStyle.Render("😎 you:"), content)
		return
	}
	fmt.Fprintln(r.out, assistantStyle.Render("🤖 assistant:"))
	fmt.Fprintln(r.out, strings.TrimRight(r.markdown(t.Content), "\n"))
}

func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.out, infoStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Warn(format string, args ...any) {
	fmt.Fprintln(r.out, warningStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Error(err error) {
	fmt.Fprintf(r.out, "%s %v\n", errorStyle.Render("[error]"), err)
}

func (r *Renderer) markdown(s string) string {
	if r.md == nil {
		return s
	}
	out, err := r.md.Render(s)
	if err != nil {
		return s
	}
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
