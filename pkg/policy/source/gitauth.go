package source

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Git authentication types.
const (
	GitAuthNone  = "none"
	GitAuthToken = "token"
	GitAuthSSH   = "ssh"
)

// GitAuth configures how a GitSource authenticates to its remote.
type GitAuth struct {
	// Type is "none", "token" or "ssh". Default: "none".
	Type string

	// Token is an HTTPS personal access token.
	Token string

	// SSHKeyPath is a private key file with 0600 permissions or stricter.
	SSHKeyPath       string
	SSHKeyPassphrase string
}

// method resolves the transport auth. Public repositories return nil.
func (a GitAuth) method() (transport.AuthMethod, error) {
	switch a.Type {
	case GitAuthNone, "":
		return nil, nil

	case GitAuthToken:
		if a.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		// Any username works with token auth.
		return &http.BasicAuth{Username: "git", Password: a.Token}, nil

	case GitAuthSSH:
		if a.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		info, err := os.Stat(a.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to access SSH key file: %w", err)
		}
		if mode := info.Mode().Perm(); mode&0077 != 0 {
			return nil, fmt.Errorf("SSH key file permissions too open (%o), should be 0600", mode)
		}
		auth, err := ssh.NewPublicKeysFromFile("git", a.SSHKeyPath, a.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return auth, nil

	default:
		return nil, fmt.Errorf("unknown git auth type %q (supported: token, ssh, none)", a.Type)
	}
}
