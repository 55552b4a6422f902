package segment

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/slices"
)

// EncodeProperties renders companion metadata as sorted key=value lines.
func EncodeProperties(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, props[k])
	}
	return buf.Bytes()
}

// DecodeProperties parses key=value lines. Blank lines and lines starting
// with '#' or '!' are ignored.
func DecodeProperties(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == '!' {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("companion line %d: missing '='", line)
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

// WriteCompanion writes the companion file of a logical file on disk.
func WriteCompanion(path string, props map[string]string) error {
	return (&FileStore{}).PutCompanion(path, EncodeProperties(props))
}

// ReadCompanion reads the companion file of a logical file on disk.
func ReadCompanion(path string) (map[string]string, error) {
	p := CompanionPath(cleanBase(path))
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read companion %s: %w", p, err)
	}
	return DecodeProperties(data)
}
