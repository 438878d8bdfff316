package settings

import (
	"bufio"
	"bytes"
)

// detectIndent returns the leading whitespace of the first indented line in
// data, or two spaces when nothing is indented.
func detectIndent(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Bytes()
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) > 0 && len(trimmed) < len(line) {
			return string(line[:len(line)-len(trimmed)])
		}
	}
	return "  "
}
