package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

type commandSender struct {
	build func(title, message string) *exec.Cmd
}

func (c commandSender) Send(title, message string) error {
	return c.build(title, message).Run()
}

func linuxSender() NotificationSender {
	return commandSender{build: func(title, message string) *exec.Cmd {
		return exec.Command("notify-send", title, message)
	}}
}

func macSender() NotificationSender {
	return commandSender{build: func(title, message string) *exec.Cmd {
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return exec.Command("osascript", "-e", script)
	}}
}

func windowsSender() NotificationSender {
	return commandSender{build: func(title, message string) *exec.Cmd {
		quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
		script := "[reflection.assembly]::loadwithpartialname('System.Windows.Forms') | Out-Null;" +
			"$n = New-Object System.Windows.Forms.NotifyIcon;" +
			"$n.Icon = [System.Drawing.SystemIcons]::Information; $n.Visible = $true;" +
			"$n.ShowBalloonTip(10000, " + quote(title) + ", " + quote(message) + ", 'Info')"
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	}}
}

// Notifier sends best-effort desktop notifications. A nil sender makes
// it a no-op.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks the sender for the current platform
func NewNotifier() *Notifier {
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: linuxSender()}
	case "darwin":
		return &Notifier{sender: macSender()}
	case "windows":
		return &Notifier{sender: windowsSender()}
	default:
		return &Notifier{}
	}
}

// NewNotifierWith uses sender
func NewNotifierWith(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// Send delivers a notification, ignoring delivery failures
func (n *Notifier) Send(title, message string) {
	if n == nil || n.sender == nil {
		return
	}
	_ = n.sender.Send(title, message)
}
