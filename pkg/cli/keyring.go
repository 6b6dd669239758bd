package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "org.opencontact.proximity"
	keyringIdentityService = "ephemeralID"
	keyringDirectory       = "~/.proximity_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

// openKeyring opens the configured keyring once and reuses it afterwards, so that file-backed
// keyrings only prompt for their password once.
func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.ring != nil {
		return c.ring, nil
	}
	if c.Debug {
		keyring.Debug = true
	}
	kr, err := keyring.Open(c.Backend)
	if err != nil {
		return nil, err
	}
	c.ring = kr
	return kr, nil
}

func (c *Config) fullIdentityName() string {
	return keyringIdentityService + "." + c.IdentityName
}

// SaveIdentityToKeyring writes id to the keyring entry named by c.IdentityName, where the
// engine's identifier source picks it up.
func (c *Config) SaveIdentityToKeyring(id string) error {
	if c.IdentityName == "" {
		return ErrNoIdentitySpecified
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  c.fullIdentityName(),
		Data: []byte(id),
	}); err != nil {
		return fmt.Errorf("failed to enroll identifier in keyring: %s", err)
	}
	return nil
}

// DeleteIdentity removes the identifier from the system keyring.
func (c *Config) DeleteIdentity() error {
	if c.IdentityName == "" {
		return ErrNoIdentitySpecified
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullIdentityName())
}
