package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/downtime/internal/incident"
)

func writeRoster(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func tierOf(t *testing.T, r *Roster, id string) incident.Tier {
	t.Helper()
	tier, err := r.ResolveTier(context.Background(), id)
	require.NoError(t, err)
	return tier
}

func TestLoad_Precedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, `
blocked: [troll, staff-gone-rogue]
trusted: [staff, staff-gone-rogue]
patron: [supporter, staff]
linked: [user, supporter]
`)

	r, err := Load(Config{Path: path})
	require.NoError(t, err)

	tests := []struct {
		id   string
		want incident.Tier
	}{
		{"troll", incident.TierBlocked},
		{"staff-gone-rogue", incident.TierBlocked},
		{"staff", incident.TierTrusted},
		{"supporter", incident.TierPatron},
		{"user", incident.TierLinked},
		{"stranger", incident.TierPlain},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tierOf(t, r, tt.id), tt.id)
	}
	assert.Equal(t, 5, r.Len())
}

func TestLoad_NoFileEveryoneIsPlain(t *testing.T) {
	t.Parallel()

	r, err := Load(Config{})
	require.NoError(t, err)
	assert.Equal(t, incident.TierPlain, tierOf(t, r, "anyone"))
	assert.Zero(t, r.Len())
	assert.NoError(t, r.Watch(context.Background()))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(Config{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, "trusted: [staff]\n")
	r, err := Load(Config{Path: path})
	require.NoError(t, err)

	writeRoster(t, path, "trusted: [staff\n")
	assert.Error(t, r.Reload())
	assert.Equal(t, incident.TierTrusted, tierOf(t, r, "staff"))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Not parallel: sets environment variables.
	t.Setenv("DOWNTIME_TEST_ROSTER_TRUSTED", "ops-1, ops-2")
	t.Setenv("DOWNTIME_TEST_ROSTER_BLOCKED", "spammer")

	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, "trusted: [staff]\nlinked: [user]\n")

	r, err := Load(Config{Path: path, EnvPrefix: "DOWNTIME_TEST_ROSTER_"})
	require.NoError(t, err)

	assert.Equal(t, incident.TierTrusted, tierOf(t, r, "ops-2"))
	assert.Equal(t, incident.TierPlain, tierOf(t, r, "staff"))
	assert.Equal(t, incident.TierBlocked, tierOf(t, r, "spammer"))
	assert.Equal(t, incident.TierLinked, tierOf(t, r, "user"))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, "linked: [user]\n")

	r, err := Load(Config{Path: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))

	writeRoster(t, path, "trusted: [user]\n")

	assert.Eventually(t, func() bool {
		tier, _ := r.ResolveTier(context.Background(), "user")
		return tier == incident.TierTrusted
	}, 5*time.Second, 20*time.Millisecond)
}
