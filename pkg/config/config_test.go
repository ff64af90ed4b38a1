package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Intake: IntakeConfig{
			InboxDir:            "data/inbox",
			WorkDir:             "data/work",
			ArchiveDir:          "data/archive",
			BatchSize:           100,
			ScanIntervalSeconds: 60,
			QueueDepth:          64,
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().validate())

	cfg := validConfig()
	cfg.Intake.BatchSize = 0
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.Intake.QueueDepth = -1
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.Intake.ArchiveDir = ""
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.Database.MigrationsPath = "does/not/exist"
	assert.Error(t, cfg.validate())
}

func TestConnectionString(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "intake",
		Password: "secret",
		Database: "intake_engine",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=intake password=secret dbname=intake_engine sslmode=disable",
		cfg.ConnectionString())
}

func TestDurationHelpers(t *testing.T) {
	intake := IntakeConfig{ScanIntervalSeconds: 90}
	assert.Equal(t, 90*time.Second, intake.ScanInterval())

	redis := RedisConfig{MarkerTTLHours: 2}
	assert.Equal(t, 2*time.Hour, redis.MarkerTTL())
}
