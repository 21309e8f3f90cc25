package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/client"
	"github.com/MoldoAndr/EL8S-Shop/internal/dedup"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// terminal prints messages once each, whichever path they arrive by.
type terminal struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	filter   *dedup.Filter
}

func newTerminal(out io.Writer, colorize bool, opts ...dedup.Option) *terminal {
	return &terminal{out: out, colorize: colorize, filter: dedup.New(opts...)}
}

func (t *terminal) render(msg chat.Message) {
	if !t.filter.Accept(msg) {
		return
	}
	t.println(formatMessage(msg, t.colorize))
}

func (t *terminal) history(msgs []chat.Message) {
	t.println(paint(fmt.Sprintf("== history: %d messages ==", len(msgs)), ansiBlue, t.colorize))
	for _, msg := range msgs {
		t.render(msg)
	}
	t.println(paint("== live ==", ansiBlue, t.colorize))
}

func (t *terminal) status(s client.Status) {
	color := ansiYellow
	switch s {
	case client.StatusConnected:
		color = ansiGreen
	case client.StatusError:
		color = ansiRed
	}
	t.println(paint("-- "+string(s), color, t.colorize))
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, line)
}

func formatMessage(msg chat.Message, colorize bool) string {
	var b strings.Builder
	if !msg.Timestamp.IsZero() {
		b.WriteString("[" + msg.Timestamp.Local().Format(time.TimeOnly) + "] ")
	}

	switch msg.Type {
	case chat.TypeChat:
		b.WriteString(msg.Username + ": " + msg.Message)
		return b.String()
	case chat.TypeSystem, chat.TypeConnectSuccess:
		b.WriteString("* " + msg.Message)
		return paint(b.String(), ansiBlue, colorize)
	case chat.TypeError:
		b.WriteString("! " + msg.Message)
		return paint(b.String(), ansiRed, colorize)
	}
	b.WriteString("(" + string(msg.Type) + ") " + msg.Message)
	return b.String()
}

func paint(s, color string, colorize bool) string {
	if !colorize {
		return s
	}
	return color + s + ansiReset
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderMessagesTable(msgs []chat.Message) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Time", "Type", "User", "Message", "ID"})
	for _, msg := range msgs {
		ts := ""
		if !msg.Timestamp.IsZero() {
			ts = msg.Timestamp.Local().Format(time.DateTime)
		}
		tw.AppendRow(table.Row{ts, string(msg.Type), msg.Username, msg.Message, msg.ID})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: 60},
	})
	return tw.Render()
}
