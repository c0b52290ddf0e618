package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mrsingh-rishi/pitch-client/model"
)

// Console prints the session as lines, for terminals without a full-screen UI
// and for piping into other tools.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles

	recordEnabled bool
	recording     bool
	speaking      bool
	avatarImage   string
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, styles: newStyles(lipgloss.NewRenderer(out))}
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.out, s)
}

func (c *Console) SetRecordEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordEnabled = on
}

func (c *Console) SetRecording(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording == on {
		return
	}
	c.recording = on
	if on {
		c.println(c.styles.Recording.Render("● recording"))
		return
	}
	c.println(c.styles.Muted.Render("■ recording stopped"))
}

// SetActive and SetListening are shown through the status line.
func (c *Console) SetActive(bool)    {}
func (c *Console) SetListening(bool) {}

func (c *Console) SetSpeaking(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speaking == on {
		return
	}
	c.speaking = on
	if on {
		c.println(c.styles.Agent.Render("AV ♪ speaking"))
	}
}

func (c *Console) SetStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.styles.Status.Render("» " + text))
}

func (c *Console) AppendMessage(e model.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := c.styles.User.Render(e.Speaker.Label() + ":")
	if e.Speaker == model.SpeakerAgent {
		label = c.styles.Agent.Render(e.Speaker.Label() + ":")
	}
	c.println(label + " " + e.Text)
}

func (c *Console) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.styles.Muted.Render("──── new session ────"))
}

func (c *Console) ShowAvatar(imageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avatarImage == imageURL {
		return
	}
	c.avatarImage = imageURL
	c.println(c.styles.Muted.Render("avatar: " + imageURL))
}

func (c *Console) Notify(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.styles.Notice.Render("! " + text))
}

func (c *Console) canRecord() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordEnabled
}

const consoleHelp = "commands: r (record/stop), n (new session), q (quit)"

// ReadCommands reads one command per line from r until quit, EOF or ctx is done.
func (c *Console) ReadCommands(ctx context.Context, r io.Reader, a Actions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	c.mu.Lock()
	c.println(c.styles.Muted.Render(consoleHelp))
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "r", "record", "":
				if !c.canRecord() {
					c.Notify("Not connected yet.")
					continue
				}
				a.ToggleRecording()
			case "n", "new", "reset":
				a.Reset()
			case "q", "quit", "exit":
				return nil
			default:
				c.Notify(consoleHelp)
			}
		}
	}
}
