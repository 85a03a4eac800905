package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/session"
	"github.com/soyeahso/voxlink/internal/store"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	crumbStyle     = lipgloss.NewStyle().Faint(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

const consoleHelp = `commands:
  /connect [agent]          connect, optionally starting with agent
  /disconnect               hang up
  /interrupt                stop the current response
  /mute, /unmute            silence or restore remote audio
  /ptt on|off               toggle push-to-talk
  /vad server|semantic|off  choose voice activity detection
  /agent <name>             switch to another agent
  /scenario <name>          load a scenario and switch to its root agent
  /history                  list archived sessions
  /quit                     exit
anything else is sent as text`

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// controller is the session surface the console drives.
type controller interface {
	Connect(ctx context.Context, req session.ConnectRequest) error
	Disconnect()
	Status() domain.SessionStatus
	ActiveAgent() string
	Agents() domain.AgentSet
	Scenario() string
	SendUserText(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	Mute(ctx context.Context, muted bool) error
	UpdateTurnDetection(ctx context.Context, u turndetect.Update) (turndetect.Settings, error)
	SwitchAgents(ctx context.Context, agents domain.AgentSet, selected, scenario string) error
}

// console is the line-oriented talk client.
type console struct {
	ctrl      controller
	out       io.Writer
	request   func(ctx context.Context, scenario, agent string) (session.ConnectRequest, error)
	scenarios func(name string) (domain.AgentSet, error)
	history   store.Archive

	mu       sync.Mutex
	scenario string
	printed  map[string]bool
}

func newConsole(ctrl controller, out io.Writer) *console {
	return &console{ctrl: ctrl, out: out, printed: make(map[string]bool)}
}

func (c *console) printf(style lipgloss.Style, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(fmt.Sprintf(format, args...)))
}

// onEvent renders bus events. Items print once, when they are done.
func (c *console) onEvent(_ context.Context, ev bus.Event) error {
	switch ev.Kind {
	case bus.KindStatusChanged:
		c.printf(statusStyle, "[%s]", ev.Status)
	case bus.KindError:
		if ev.Err != nil {
			c.printf(errorStyle, "error: %v", ev.Err)
		}
	case bus.KindAgentHandoff:
		if ev.Handoff != nil {
			c.printf(statusStyle, "[agent %s -> %s]", ev.Handoff.From, ev.Handoff.To)
		}
	case bus.KindMuteChanged:
		if ev.Muted {
			c.printf(statusStyle, "[muted]")
		} else {
			c.printf(statusStyle, "[unmuted]")
		}
	case bus.KindItemAdded, bus.KindItemUpdated:
		if ev.Item != nil {
			c.printItem(*ev.Item)
		}
	}
	return nil
}

func (c *console) printItem(it transcript.Item) {
	if it.IsHidden || it.Status != transcript.StatusDone {
		return
	}
	c.mu.Lock()
	seen := c.printed[it.ItemID]
	c.printed[it.ItemID] = true
	c.mu.Unlock()
	if seen {
		return
	}

	switch {
	case it.Type == transcript.TypeBreadcrumb:
		c.printf(crumbStyle, "  · %s", it.Title)
	case it.Role == transcript.RoleUser:
		c.printf(userStyle, "you: %s", it.Title)
	default:
		c.printf(assistantStyle, "%s: %s", c.ctrl.ActiveAgent(), it.Title)
	}
}

// exec runs one input line. errQuit ends the session.
func (c *console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.ctrl.SendUserText(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.mu.Lock()
		fmt.Fprintln(c.out, consoleHelp)
		c.mu.Unlock()
		return nil
	case "/connect":
		agent := ""
		if len(args) > 0 {
			agent = args[0]
		}
		c.mu.Lock()
		scenario := c.scenario
		c.mu.Unlock()
		req, err := c.request(ctx, scenario, agent)
		if err != nil {
			return err
		}
		return c.ctrl.Connect(ctx, req)
	case "/disconnect":
		c.ctrl.Disconnect()
		return nil
	case "/interrupt":
		return c.ctrl.Interrupt(ctx)
	case "/mute":
		return c.ctrl.Mute(ctx, true)
	case "/unmute":
		return c.ctrl.Mute(ctx, false)
	case "/ptt":
		on, err := onOff(args)
		if err != nil {
			return err
		}
		_, err = c.ctrl.UpdateTurnDetection(ctx, turndetect.Update{PushToTalk: &on})
		return err
	case "/vad":
		mode, err := vadMode(args)
		if err != nil {
			return err
		}
		_, err = c.ctrl.UpdateTurnDetection(ctx, turndetect.Update{Mode: &mode})
		return err
	case "/agent":
		if len(args) != 1 {
			return errors.New("usage: /agent <name>")
		}
		agents := c.ctrl.Agents()
		if len(agents) == 0 {
			var err error
			if agents, err = c.scenarios(c.ctrl.Scenario()); err != nil {
				return err
			}
		}
		if _, ok := agents.Find(args[0]); !ok {
			return fmt.Errorf("unknown agent %q (have %s)", args[0], strings.Join(agents.Names(), ", "))
		}
		return c.ctrl.SwitchAgents(ctx, agents, args[0], "")
	case "/scenario":
		if len(args) != 1 {
			return errors.New("usage: /scenario <name>")
		}
		agents, err := c.scenarios(args[0])
		if err != nil {
			return err
		}
		root, ok := agents.Root()
		if !ok {
			return fmt.Errorf("scenario %q has no agents", args[0])
		}
		c.mu.Lock()
		c.scenario = args[0]
		c.mu.Unlock()
		return c.ctrl.SwitchAgents(ctx, agents, root.Name, args[0])
	case "/history":
		return c.listHistory(ctx)
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

func (c *console) listHistory(ctx context.Context) error {
	if c.history == nil {
		return errors.New("no archive configured")
	}
	recs, err := c.history.ListSessions(ctx, 10)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "no archived sessions")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(c.out, "  %s  %s  %-10s %3d items\n", r.StartedAt.Format("2006-01-02 15:04"), r.ID, r.RootAgent, r.Items)
	}
	return nil
}

func onOff(args []string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
	}
	return false, errors.New("usage: /ptt on|off")
}

func vadMode(args []string) (turndetect.Mode, error) {
	if len(args) == 1 {
		switch args[0] {
		case "server":
			return turndetect.ModeServerVAD, nil
		case "semantic":
			return turndetect.ModeSemanticVAD, nil
		case "off":
			return turndetect.ModeDisabled, nil
		}
	}
	return "", errors.New("usage: /vad server|semantic|off")
}
