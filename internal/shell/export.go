package shell

import (
	"fmt"
	"strings"
)

// ExportScript renders the PATH change and extra variables as a snippet the
// given shell can evaluate in the current session.
func ExportScript(shell ShellType, dir string, extra map[string]string) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}

	var b strings.Builder
	switch shell {
	case ShellBash, ShellZsh:
		fmt.Fprintf(&b, "export PATH=%s\"${PATH:+:$PATH}\"\n", posixQuote(dir))
		for _, k := range sortedKeys(extra) {
			fmt.Fprintf(&b, "export %s=%s\n", k, posixQuote(extra[k]))
		}
	case ShellFish:
		fmt.Fprintf(&b, "set -gx PATH %s $PATH\n", fishQuote(dir))
		for _, k := range sortedKeys(extra) {
			fmt.Fprintf(&b, "set -gx %s %s\n", k, fishQuote(extra[k]))
		}
	case ShellPowerShell:
		fmt.Fprintf(&b, "$env:PATH = %s + [IO.Path]::PathSeparator + $env:PATH\n", psQuote(dir))
		for _, k := range sortedKeys(extra) {
			fmt.Fprintf(&b, "$env:%s = %s\n", k, psQuote(extra[k]))
		}
	case ShellCmd:
		fmt.Fprintf(&b, "set \"PATH=%s;%%PATH%%\"\r\n", cmdEscape(dir))
		for _, k := range sortedKeys(extra) {
			fmt.Fprintf(&b, "set \"%s=%s\"\r\n", k, cmdEscape(extra[k]))
		}
	}
	return b.String(), nil
}

func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fishQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// cmd.exe expands %VAR% even inside quotes.
func cmdEscape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
