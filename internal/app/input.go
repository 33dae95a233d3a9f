package app

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// credentialsSource reads the credentials file on every Load. For the
// username-password flow a password missing from the file is read from the
// terminal once and reused on later loads.
func credentialsSource(path string, flow auth.Flow, w io.Writer) auth.CredentialsSource {
	src := auth.FromFile(path)
	if flow != auth.FlowUsernamePassword {
		return src
	}
	return &promptSource{src: src, w: w}
}

type promptSource struct {
	src auth.CredentialsSource
	w   io.Writer

	mu       sync.Mutex
	password []byte
}

func (p *promptSource) Load() (auth.Credentials, error) {
	creds, err := p.src.Load()
	if err != nil || creds.Password != "" {
		return creds, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.password) == 0 {
		pw, err := getPassword(p.w, creds.Username)
		if err != nil {
			return auth.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		p.password = pw
	}
	creds.Password = string(p.password)
	return creds, nil
}

// getPassword prompts on w and reads a password from stdin without echo.
func getPassword(w io.Writer, username string) ([]byte, error) {
	if _, err := fmt.Fprintf(w, "Password for %s: ", username); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
