package rfcomm

import (
	"fmt"
	"strings"

	"ncb-edge/internal/shell"
)

func errString(res shell.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Stderr != "" {
		return res.Stderr
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
