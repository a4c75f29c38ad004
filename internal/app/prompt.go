package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from the user's terminal.
type Prompter struct {
	in  *os.File
	out io.Writer
}

// NewPrompter prompts on stderr and reads from stdin.
func NewPrompter() *Prompter {
	return &Prompter{in: os.Stdin, out: os.Stderr}
}

// Interactive reports whether stdin is a terminal.
func (p *Prompter) Interactive() bool {
	return term.IsTerminal(int(p.in.Fd()))
}

// Line shows label and reads one line of visible input.
func (p *Prompter) Line(label string) (string, error) {
	if !p.Interactive() {
		return "", fmt.Errorf("cannot prompt for %q: stdin is not a terminal", label)
	}
	fmt.Fprint(p.out, label)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Passphrase reads a passphrase without echo.
func (p *Prompter) Passphrase(label string) (string, error) {
	if !p.Interactive() {
		return "", fmt.Errorf("cannot prompt for passphrase: stdin is not a terminal")
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(int(p.in.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// NewPassphrase reads a passphrase twice and requires both to match.
func (p *Prompter) NewPassphrase() (string, error) {
	first, err := p.Passphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	second, err := p.Passphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
