package main

import (
	"os"
	"strings"

	"mybrain/internal/cli"
)

func isItemID(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "itm-") {
		return false
	}
	return len(s) > len("itm-")
}

// rewriteDirectItemLookupArgs makes `mybrain <item-id>` work like
// `mybrain items show <item-id>`. Cobra treats the first non-flag token as a
// subcommand, so argv is rewritten before parsing. Persistent flags may come
// first, so the first positional token is located rather than argv[1].
func rewriteDirectItemLookupArgs(argv []string) []string {
	if len(argv) < 2 {
		return argv
	}

	// Unknown flags are skipped without consuming a value so an item id is
	// never swallowed.
	valueFlags := map[string]bool{
		"--config":    true,
		"--dir":       true,
		"--namespace": true,
		"--owner":     true,
		"--relay":     true,
		"--password":  true,
		"--log-level": true,
		"--format":    true,
	}
	boolFlags := map[string]bool{
		"--pretty": true,
	}

	showAt := func(i int) []string {
		out := make([]string, 0, len(argv)+2)
		out = append(out, argv[:i]...)
		out = append(out, "items", "show")
		out = append(out, argv[i:]...)
		return out
	}

	for i := 1; i < len(argv); i++ {
		a := strings.TrimSpace(argv[i])
		if a == "" {
			continue
		}
		if a == "--" {
			if i+1 < len(argv) && isItemID(argv[i+1]) {
				return showAt(i + 1)
			}
			return argv
		}

		if strings.HasPrefix(a, "-") {
			if strings.Contains(a, "=") || boolFlags[a] {
				continue
			}
			if valueFlags[a] {
				i++
			}
			continue
		}

		if isItemID(a) {
			return showAt(i)
		}
		return argv
	}

	return argv
}

func main() {
	os.Args = rewriteDirectItemLookupArgs(os.Args)

	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
