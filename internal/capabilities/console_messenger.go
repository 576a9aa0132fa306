package capabilities

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConsoleMessenger implements Messenger over stdin/stdout for the local CLI
// path named in spec §1 ("accepts work through a message channel or a local
// CLI"). It is intentionally the only concrete Messenger in this repo — the
// Telegram wire format is an external collaborator out of scope.
type ConsoleMessenger struct {
	in  *bufio.Reader
	out *os.File
}

// NewConsoleMessenger builds a ConsoleMessenger over the process's stdio.
func NewConsoleMessenger() *ConsoleMessenger {
	return &ConsoleMessenger{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Ask prints the question and blocks for one line of reply.
func (c *ConsoleMessenger) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(c.out, "? %s\n> ", question)
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{strings.TrimRight(line, "\r\n"), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

// Notify writes a best-effort status line.
func (c *ConsoleMessenger) Notify(ctx context.Context, message string) error {
	fmt.Fprintf(c.out, "[notify] %s\n", message)
	return nil
}

// SendFile logs the file that would be delivered; the console surface has no
// transport for binary attachments.
func (c *ConsoleMessenger) SendFile(ctx context.Context, path string, caption string) error {
	log.WithFields(log.Fields{"path": path, "caption": caption}).Info("console messenger: file ready for delivery")
	fmt.Fprintf(c.out, "[file] %s — %s\n", path, caption)
	return nil
}
