// Package roster resolves reporter trust tiers from a YAML roster file,
// optionally extended through environment variables. The file is reloaded
// when it changes on disk.
//
// Roster file format:
//
//	blocked: [troll-1]
//	trusted: [staff-1, staff-2]
//	patron:  [supporter-1]
//	linked:  [user-1, user-2]
//
// A reporter listed under several tiers gets the highest-precedence one:
// blocked, then trusted, patron, linked. Anyone not listed is plain.
package roster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/downtime/internal/incident"
)

// document is the roster file layout.
type document struct {
	Blocked []string `koanf:"blocked"`
	Trusted []string `koanf:"trusted"`
	Patron  []string `koanf:"patron"`
	Linked  []string `koanf:"linked"`
}

// Config locates the roster sources.
type Config struct {
	// Path is the roster YAML file. Empty means no file.
	Path string

	// EnvPrefix, when set, reads comma-separated id lists from
	// <prefix>BLOCKED, <prefix>TRUSTED, <prefix>PATRON and <prefix>LINKED.
	// An env list replaces the file's list for the same tier.
	EnvPrefix string

	Logger log.Logger
}

// Roster maps reporter ids to tiers.
type Roster struct {
	cfg    Config
	logger log.Logger
	file   *file.File

	mu    sync.RWMutex
	tiers map[string]incident.Tier
}

// Load reads the roster from its configured sources.
func Load(cfg Config) (*Roster, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	r := &Roster{
		cfg:    cfg,
		logger: cfg.Logger,
		tiers:  map[string]incident.Tier{},
	}
	if cfg.Path != "" {
		r.file = file.Provider(cfg.Path)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every source and swaps in the new roster. On error the
// previous roster stays in place.
func (r *Roster) Reload() error {
	k := koanf.New(".")

	if r.file != nil {
		if err := k.Load(r.file, yaml.Parser()); err != nil {
			return fmt.Errorf("load roster %s: %w", r.cfg.Path, err)
		}
	}
	if p := r.cfg.EnvPrefix; p != "" {
		provider := env.ProviderWithValue(p, ".", func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, p)), splitIDs(value)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("load roster from env: %w", err)
		}
	}

	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return fmt.Errorf("decode roster: %w", err)
	}

	tiers := build(doc)
	r.mu.Lock()
	r.tiers = tiers
	r.mu.Unlock()
	return nil
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// build applies lists from lowest to highest precedence so later lists win.
func build(doc document) map[string]incident.Tier {
	tiers := make(map[string]incident.Tier)
	lists := []struct {
		tier incident.Tier
		ids  []string
	}{
		{incident.TierLinked, doc.Linked},
		{incident.TierPatron, doc.Patron},
		{incident.TierTrusted, doc.Trusted},
		{incident.TierBlocked, doc.Blocked},
	}
	for _, l := range lists {
		for _, id := range l.ids {
			tiers[id] = l.tier
		}
	}
	return tiers
}

// ResolveTier returns the tier for reporterID, plain when unlisted.
func (r *Roster) ResolveTier(_ context.Context, reporterID string) (incident.Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tiers[reporterID]; ok {
		return t, nil
	}
	return incident.TierPlain, nil
}

// Len is the number of listed reporters.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiers)
}

// Watch reloads the roster whenever the file changes, until ctx is done.
// It is a no-op without a roster file.
func (r *Roster) Watch(ctx context.Context) error {
	if r.file == nil {
		return nil
	}
	err := r.file.Watch(func(_ any, err error) {
		if err != nil {
			r.logger.Error(ctx, err, "roster watch failed", "path", r.cfg.Path)
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error(ctx, err, "failed to reload roster, keeping previous", "path", r.cfg.Path)
			return
		}
		r.logger.Info(ctx, "roster reloaded", "path", r.cfg.Path, "entries", r.Len())
	})
	if err != nil {
		return fmt.Errorf("watch roster %s: %w", r.cfg.Path, err)
	}

	go func() {
		<-ctx.Done()
		if err := r.file.Unwatch(); err != nil {
			r.logger.Warn(context.Background(), "failed to stop roster watch", "err", err)
		}
	}()
	return nil
}
