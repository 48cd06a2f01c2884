package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/covenant/pkg/config"
)

// refPattern matches ${secret:name} references.
var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver replaces secret references using providers in order. The first
// provider that holds a secret wins. Values are memoized for the lifetime
// of the Resolver. A Resolver is not safe for concurrent use.
type Resolver struct {
	providers []Provider
	resolved  map[string]string
	logger    *slog.Logger
}

// NewResolver returns a resolver trying providers in order.
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		providers: providers,
		resolved:  make(map[string]string),
		logger:    logger.With("component", "secrets"),
	}
}

// FromConfig builds the resolver described by cfg: the secrets directory
// first when set, then the environment.
func FromConfig(cfg config.SecretsConfig, logger *slog.Logger) (*Resolver, error) {
	var providers []Provider
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))
	return NewResolver(logger, providers...), nil
}

// GetSecret returns the value of name from the first provider holding it.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := r.resolved[name]; ok {
		return v, nil
	}
	var errs []error
	for _, p := range r.providers {
		v, err := p.GetSecret(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", redact(name), "provider", p.Name())
			r.resolved[name] = v
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s (no providers)", ErrSecretNotFound, name)
	}
	return "", errors.Join(errs...)
}

// Resolve replaces every reference in input. Unresolvable references are
// left in place and reported together.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(input, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		v, err := r.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return v
	})
	return out, errors.Join(errs...)
}

// ResolveConfig resolves references in the credential fields of cfg in
// place: the git URL, token and SSH passphrase and the Redis password.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"live.sources.git.url", &cfg.Live.Sources.Git.URL},
		{"live.sources.git.auth.token", &cfg.Live.Sources.Git.Auth.Token},
		{"live.sources.git.auth.ssh_key_passphrase", &cfg.Live.Sources.Git.Auth.SSHKeyPassphrase},
		{"live.sources.redis.password", &cfg.Live.Sources.Redis.Password},
	}
	var errs []error
	for _, f := range fields {
		if !refPattern.MatchString(*f.dst) {
			continue
		}
		v, err := r.Resolve(ctx, *f.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = v
	}
	return errors.Join(errs...)
}

// redact keeps the first and last two characters of a secret name.
func redact(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
