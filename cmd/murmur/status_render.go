package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"murmur/internal/protocol"
)

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func renderStatus(status protocol.DaemonStatus, colorize bool) string {
	loaded := yesNo(status.ModelLoaded)
	if colorize {
		if status.ModelLoaded {
			loaded = text.FgGreen.Sprint(loaded)
		} else {
			loaded = text.FgYellow.Sprint(loaded)
		}
	}

	sessions := "none"
	if len(status.ActiveSessions) > 0 {
		sessions = strings.Join(status.ActiveSessions, ", ")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Model loaded", loaded},
		{"Active sessions", sessions},
		{"Uptime", status.Uptime.Truncate(time.Second).String()},
		{"Audio device", status.AudioDevice},
		{"Buffer size", status.BufferSize},
		{"VAD sensitivity", fmt.Sprintf("%.2f", status.VADSensitivity)},
	})
	return t.Render() + "\n"
}
