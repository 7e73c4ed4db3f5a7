package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var stdout io.Writer = os.Stdout

func validateOutputFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

// structured reports whether results should be printed as a document
// instead of human-readable text.
func structured() bool {
	return outputFormat == "json" || outputFormat == "yaml"
}

// printStructured writes v as JSON or YAML. YAML goes through a JSON round
// trip so raw JSON fields (ABIs, settings) come out as nested documents.
func printStructured(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if format == "yaml" {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, data, "", "  "); err != nil {
		return err
	}
	indented.WriteByte('\n')
	_, err = w.Write(indented.Bytes())
	return err
}

// readCode resolves a bytecode argument: "@file" reads a file, "-" reads
// piped stdin, anything else is taken as hex.
func readCode(arg string, stdin *os.File) (string, error) {
	switch {
	case arg == "":
		return "", nil
	case arg == "-":
		if term.IsTerminal(int(stdin.Fd())) {
			return "", errors.New("refusing to read bytecode from a terminal, pipe it in or use @file")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return strings.TrimSpace(arg), nil
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
