package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/dispatch"
)

// runner executes an external command with optional stdin
type runner func(ctx context.Context, stdin, name string, args ...string) error

func execRunner(ctx context.Context, stdin, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// terminalPresenter shows notices on a terminal and hands URLs to the
// desktop through the platform's opener and clipboard tools
type terminalPresenter struct {
	mu   sync.Mutex
	out  io.Writer
	goos string
	run  runner
	look func(string) (string, error)
}

func newTerminalPresenter(out io.Writer) *terminalPresenter {
	return &terminalPresenter{
		out:  out,
		goos: runtime.GOOS,
		run:  execRunner,
		look: exec.LookPath,
	}
}

func (p *terminalPresenter) Notify(n dispatch.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := strings.ToUpper(string(n.Level))
	if n.Persistent {
		prefix += "!"
	}
	fmt.Fprintf(p.out, "[%s] %s\n", prefix, n.Message)
}

func (p *terminalPresenter) OpenURL(url string) error {
	var name string
	var args []string
	switch p.goos {
	case "darwin":
		name = "open"
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}
	return p.run(context.Background(), "", name, append(args, url)...)
}

// clipboardCommands lists candidate tools in preference order
var clipboardCommands = map[string][][]string{
	"darwin":  {{"pbcopy"}},
	"windows": {{"clip"}},
	"linux":   {{"wl-copy"}, {"xclip", "-selection", "clipboard"}, {"xsel", "--clipboard", "--input"}},
}

func (p *terminalPresenter) CopyToClipboard(text string) error {
	candidates, ok := clipboardCommands[p.goos]
	if !ok {
		candidates = clipboardCommands["linux"]
	}
	for _, c := range candidates {
		if _, err := p.look(c[0]); err != nil {
			continue
		}
		return p.run(context.Background(), text, c[0], c[1:]...)
	}
	return errors.New("no clipboard tool found")
}

func (p *terminalPresenter) ShowManualInstructions(message string, instructions []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\nManual download required: %s\n", message)
	for i, line := range instructions {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, line)
	}
	fmt.Fprintln(p.out)
}
