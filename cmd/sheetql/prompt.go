package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo on a terminal and falls back to a plain
// line for piped input.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(prompt)
	}

	fmt.Print(prompt)
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func readNewPassword() (string, error) {
	if p := os.Getenv("SHEETQL_NEW_PASSWORD"); p != "" {
		return p, nil
	}
	first, err := readPassword("New password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	second, err := readPassword("Repeat password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}
