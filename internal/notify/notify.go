// Package notify shows native desktop notifications.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/neboloop/nexus/internal/logging"
)

const maxBodyLen = 200

// Send displays a native OS notification.
// Falls back silently if the notification system is unavailable.
func Send(title, body string) {
	cmd := command(runtime.GOOS, sanitize(title), sanitize(body))
	if cmd == nil {
		return
	}
	if err := cmd.Run(); err != nil {
		logging.Debugf("[Notify] Failed to send notification: %v", err)
	}
}

func command(goos, title, body string) *exec.Cmd {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script)
	case "linux":
		return exec.Command("notify-send", "--app-name=nexus", title, body)
	case "windows":
		ps := fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$textNodes = $template.GetElementsByTagName('text')
$textNodes.Item(0).AppendChild($template.CreateTextNode('%s')) > $null
$textNodes.Item(1).AppendChild($template.CreateTextNode('%s')) > $null
$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('Nexus').Show($toast)
`, title, body)
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", ps)
	}
	return nil
}

// sanitize flattens s to one line without quote or escape characters
// and truncates it to maxBodyLen runes.
func sanitize(s string) string {
	s = strings.NewReplacer("'", "’", `"`, "”", `\`, "", "`", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxBodyLen {
		s = string([]rune(s)[:maxBodyLen]) + "…"
	}
	return s
}
