package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadIdentities reads one identity per line. Blank lines and lines starting
// with '#' are skipped.
func ReadIdentities(r io.Reader) ([]string, error) {
	var identities []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identities = append(identities, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	return identities, nil
}

// ReadIdentitiesFile reads identities from the file at path.
func ReadIdentitiesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identities file: %w", err)
	}
	defer f.Close()
	return ReadIdentities(f)
}

// PromptIdentities reads identities interactively until a blank line or EOF.
// The prompt is written to out.
func PromptIdentities(in io.Reader, out io.Writer) ([]string, error) {
	fmt.Fprintln(out, "Enter one identity per line, then an empty line to start:")
	var identities []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		identities = append(identities, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	return identities, nil
}
