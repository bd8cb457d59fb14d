package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Chat is an interactive terminal session against the relay.
type Chat struct {
	client  *Client
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner bool

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

type ChatConfig struct {
	Client  *Client
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting for a reply
}

func NewChat(cfg ChatConfig) *Chat {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chat{
		client:  cfg.Client,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func isQuit(line string) bool {
	return line == "/quit" || line == "/exit" || line == "/q"
}

// Run reads lines until EOF, /quit or ctx is done. Each line is sent as one
// message and the reply printed before the next prompt.
func (c *Chat) Run(ctx context.Context) error {
	_, _ = fmt.Fprintf(c.out, "Chat session %s. Type your message and press Enter. Type /quit to exit.\n", c.client.SessionID())
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if isQuit(line) {
			c.logger.Debug("user requested quit")
			return nil
		}

		c.startSpinner()
		reply, err := c.client.Send(ctx, line)
		c.stopSpinner()

		if err != nil {
			c.logger.Debug("send failed", "error", err)
			_, _ = fmt.Fprintf(c.out, "Error: %v\n", err)
		} else {
			_, _ = fmt.Fprintln(c.out, "--- Relay ---")
			_, _ = fmt.Fprintln(c.out, reply.Text)
			_, _ = fmt.Fprintln(c.out, "-------------")
		}
		_, _ = fmt.Fprint(c.out, "You> ")
	}
}

func (c *Chat) startSpinner() {
	if !c.spinner {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})
	go func(stop, stopped chan struct{}) {
		defer close(stopped)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				_, _ = fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(c.out, "\r%s Waiting for reply...", frames[i%len(frames)])
			}
		}
	}(c.stop, c.stopped)
}

// stopSpinner blocks until the spinner goroutine has cleared its line.
func (c *Chat) stopSpinner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.stopped
	c.stop, c.stopped = nil, nil
}
