// Package credential resolves the browser executable path and session token
// used to start an authenticated browser.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streamwatch/internal/logging"
)

// ErrMalformedFile is returned when the credential file exists but cannot be parsed.
var ErrMalformedFile = errors.New("malformed credential file")

// ErrEmptyCredential is returned when the prompt yields no token.
var ErrEmptyCredential = errors.New("empty credential")

// Credential is the browser executable path and auth token pair.
type Credential struct {
	Exec  string `json:"exec"`
	Token string `json:"token"`
}

// Source records where a credential came from.
type Source int

const (
	SourceFile Source = iota
	SourceEnv
	SourcePrompt
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceEnv:
		return "env"
	case SourcePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// Prompter asks the user for a credential interactively.
type Prompter interface {
	Ask(ctx context.Context) (Credential, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context) (Credential, error)

// Ask implements Prompter.
func (f PrompterFunc) Ask(ctx context.Context) (Credential, error) { return f(ctx) }

// Loader resolves a credential from file, then environment, then prompt.
type Loader struct {
	// Path is the JSON credential file.
	Path string
	// EnvToken is the token taken from the environment, if any.
	EnvToken string
	// DefaultExec is the executable used with an environment token.
	DefaultExec string
	// Prompter is consulted last. A nil Prompter makes the prompt step fail.
	Prompter Prompter
}

// Resolve returns the first available credential and its source.
// A present but unparseable file is an error; it does not fall through to
// the environment or prompt.
func (l *Loader) Resolve(ctx context.Context) (Credential, Source, error) {
	logging.Credential("Checking credential file %s", l.Path)

	cred, err := Load(l.Path)
	switch {
	case err == nil:
		logging.Credential("Credential file found")
		return cred, SourceFile, nil
	case !errors.Is(err, os.ErrNotExist):
		return Credential{}, SourceFile, err
	}

	if token := strings.TrimSpace(l.EnvToken); token != "" {
		logging.Credential("Using token from environment")
		exec := l.DefaultExec
		if exec == "" {
			exec = "/usr/bin/google-chrome"
		}
		return Credential{Exec: exec, Token: token}, SourceEnv, nil
	}

	logging.Credential("No credential file or environment token, prompting")
	if l.Prompter == nil {
		return Credential{}, SourcePrompt, fmt.Errorf("no credential at %s and no TOKEN set", l.Path)
	}
	cred, err = l.Prompter.Ask(ctx)
	if err != nil {
		return Credential{}, SourcePrompt, fmt.Errorf("prompt: %w", err)
	}
	if strings.TrimSpace(cred.Token) == "" {
		return Credential{}, SourcePrompt, ErrEmptyCredential
	}
	if err := Save(l.Path, cred); err != nil {
		return Credential{}, SourcePrompt, err
	}
	return cred, SourcePrompt, nil
}

// Load reads and parses a credential file. A missing file yields an error
// satisfying errors.Is(err, os.ErrNotExist).
func Load(path string) (Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w %s: %v", ErrMalformedFile, path, err)
	}
	return cred, nil
}

// Save writes the credential as JSON, creating parent directories.
func Save(path string, cred Credential) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credential directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	logging.Credential("Credential saved to %s", path)
	return nil
}

// Remove deletes the credential file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential: %w", err)
	}
	logging.Credential("Credential file %s removed", path)
	return nil
}

// Discard removes the persisted credential after a failed login, unless the
// token came from the environment, so the next run prompts again.
// It reports whether the file was removed.
func Discard(path string, src Source) (bool, error) {
	if src == SourceEnv {
		return false, nil
	}
	if err := Remove(path); err != nil {
		return false, err
	}
	return true, nil
}
