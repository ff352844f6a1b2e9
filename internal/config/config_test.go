package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePowerOverrides(t *testing.T) {
	overrides, err := parsePowerOverrides("rewarder100:100, rewarder1000:1000")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rewarder100": 100, "rewarder1000": 1000}, overrides)

	empty, err := parsePowerOverrides("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parsePowerOverrides("missing-power")
	assert.Error(t, err)

	_, err = parsePowerOverrides("id:lots")
	assert.Error(t, err)
}

func TestLoad_MemoryProviderDefaults(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("STORAGE_PROVIDER", "memory")
	t.Setenv("CACHE_PROVIDER", "memory")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.15, cfg.Voting.DecayFactor)
	assert.Equal(t, 30, cfg.Voting.InactivityThresholdDays)
	assert.Equal(t, RateLimits{PerDay: 100, PerHour: 50, PerAuthorPerDay: 30}, cfg.Voting.UserLimits)
	assert.Equal(t, 100000, cfg.Voting.AdminLimits.PerDay)
	assert.Equal(t, []string{"Posts", "Comments"}, cfg.Voting.RescoreCollections)
	assert.Equal(t, "@every 30s", cfg.Scheduler.ActiveSpec)
	assert.False(t, cfg.Scheduler.LeaderElection)
}

func TestLoad_VotingOverrides(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("STORAGE_PROVIDER", "memory")
	t.Setenv("SCORE_DECAY_FACTOR", "1.3")
	t.Setenv("VOTE_LIMIT_PER_DAY", "5")
	t.Setenv("KARMA_REWARDER_OVERRIDES", "acct:1000")
	t.Setenv("RESCORE_COLLECTIONS", "Posts")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.3, cfg.Voting.DecayFactor)
	assert.Equal(t, 5, cfg.Voting.UserLimits.PerDay)
	assert.Equal(t, 1000.0, cfg.Voting.KarmaRewarderOverrides["acct"])
	assert.Equal(t, []string{"Posts"}, cfg.Voting.RescoreCollections)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero decay", mutate: func(c *Config) { c.Voting.DecayFactor = 0 }, wantErr: true},
		{name: "negative limit", mutate: func(c *Config) { c.Voting.UserLimits.PerHour = -1 }, wantErr: true},
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Provider = "postgres" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Database.Provider = "mongo" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.Cache.Provider = "redis" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:    ServerConfig{Port: "9000", ReadTimeout: 1, WriteTimeout: 1},
				Database:  DatabaseConfig{Provider: "memory"},
				Cache:     CacheConfig{Provider: "memory"},
				Voting:    DefaultVotingConfig(),
				Scheduler: SchedulerConfig{Enabled: true, ActiveSpec: "@every 30s", InactiveSpec: "@daily"},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
