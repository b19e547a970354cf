package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want dev", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.StoreType != "postgres" {
		t.Errorf("StoreType = %q, want postgres", cfg.StoreType)
	}
	if cfg.RateLimitPerIP != 100 {
		t.Errorf("RateLimitPerIP = %d, want 100", cfg.RateLimitPerIP)
	}
	if cfg.AuditQueueSize != 256 {
		t.Errorf("AuditQueueSize = %d, want 256", cfg.AuditQueueSize)
	}
	if cfg.ConditionValueLimit != 1000 {
		t.Errorf("ConditionValueLimit = %d, want 1000", cfg.ConditionValueLimit)
	}
	if cfg.RulesConditionsLimit != 100 {
		t.Errorf("RulesConditionsLimit = %d, want 100", cfg.RulesConditionsLimit)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("SEGMENT_RULES_CONDITIONS_LIMIT", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("StoreType = %q, want memory", cfg.StoreType)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.RulesConditionsLimit != 50 {
		t.Errorf("RulesConditionsLimit = %d, want 50", cfg.RulesConditionsLimit)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		AppEnv:               "dev",
		StoreType:            "memory",
		AdminAPIKey:          "admin-123",
		ConditionValueLimit:  1000,
		RulesConditionsLimit: 100,
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "unknown store type",
			mutate:    func(c *Config) { c.StoreType = "redis" },
			wantField: "STORE_TYPE",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.StoreType = "postgres"
				c.DatabaseDSN = ""
			},
			wantField: "DB_DSN",
		},
		{
			name:      "default admin key in prod",
			mutate:    func(c *Config) { c.AppEnv = "prod" },
			wantField: "ADMIN_API_KEY",
		},
		{
			name:      "non-positive value limit",
			mutate:    func(c *Config) { c.ConditionValueLimit = 0 },
			wantField: "SEGMENT_CONDITION_VALUE_LIMIT",
		},
		{
			name:      "non-positive definition limit",
			mutate:    func(c *Config) { c.RulesConditionsLimit = -1 },
			wantField: "SEGMENT_RULES_CONDITIONS_LIMIT",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			errs := cfg.Validate()

			if tc.wantField == "" {
				if len(errs) != 0 {
					t.Fatalf("Validate() = %v, want no errors", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if e.Field == tc.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want violation on %s", errs, tc.wantField)
			}
		})
	}
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	cfg := Config{
		AppEnv:    "prod",
		StoreType: "postgres",
		// Empty DSN, default key, zero limits: four violations at once.
		AdminAPIKey: "admin-123",
	}
	errs := cfg.Validate()
	if len(errs) != 4 {
		t.Errorf("Validate() reported %d violations, want 4: %v", len(errs), errs)
	}
	for _, e := range errs {
		if e.Error() == "" {
			t.Error("empty error string")
		}
	}
}
