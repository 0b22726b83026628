package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/songrank/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		convey.Convey("Then it has sensible defaults and validates", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QualifyCutoff, convey.ShouldEqual, 10)
			convey.So(cfg.PointsPerPlace, convey.ShouldResemble, []int{12, 10, 8, 7, 6, 5, 4, 3, 2, 1})
			convey.So(cfg.SessionStore, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.CatalogDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting each", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":        func(c *config.Config) { c.Addr = "" },
			"zero queue":        func(c *config.Config) { c.EventQueueSize = 0 },
			"zero workers":      func(c *config.Config) { c.WorkerCount = 0 },
			"zero limit":        func(c *config.Config) { c.MaxStandingsLimit = 0 },
			"zero cutoff":       func(c *config.Config) { c.QualifyCutoff = 0 },
			"negative ttl":      func(c *config.Config) { c.SessionTTL = -time.Second },
			"unknown store":     func(c *config.Config) { c.SessionStore = "etcd" },
			"redis no url":      func(c *config.Config) { c.SessionStore = config.StoreRedis; c.RedisURL = "" },
			"unknown driver":    func(c *config.Config) { c.CatalogDriver = "mysql" },
			"empty catalog dsn": func(c *config.Config) { c.CatalogDSN = "" },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		}
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults come back", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.SessionTTL, convey.ShouldEqual, 24*time.Hour)
			})
		})

		convey.Convey("When environment variables are set", func() {
			t.Setenv("SONGRANK_ADDR", ":8080")
			t.Setenv("SONGRANK_QUEUE_SIZE", "64")
			t.Setenv("SONGRANK_QUALIFY_CUTOFF", "3")
			t.Setenv("SONGRANK_SESSION_TTL", "90m")
			t.Setenv("SONGRANK_POINTS_PER_PLACE", "5,3,1")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.QualifyCutoff, convey.ShouldEqual, 3)
				convey.So(cfg.SessionTTL, convey.ShouldEqual, 90*time.Minute)
				convey.So(cfg.PointsPerPlace, convey.ShouldResemble, []int{5, 3, 1})
			})
		})

		convey.Convey("When a YAML file is named", func() {
			path := filepath.Join(t.TempDir(), "songrank.yaml")
			body := "addr: \":7000\"\nworker_count: 2\nsession_store: redis\nredis_url: redis://cache:6379/1\n"
			convey.So(os.WriteFile(path, []byte(body), 0o600), convey.ShouldBeNil)
			t.Setenv("SONGRANK_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file values are used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7000")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.SessionStore, convey.ShouldEqual, config.StoreRedis)
				convey.So(cfg.RedisURL, convey.ShouldEqual, "redis://cache:6379/1")
			})

			convey.Convey("And env vars still win over the file", func() {
				t.Setenv("SONGRANK_ADDR", ":7001")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7001")
			})
		})

		convey.Convey("When the named YAML file is missing", func() {
			t.Setenv("SONGRANK_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a .env file is named", func() {
			path := filepath.Join(t.TempDir(), ".env")
			convey.So(os.WriteFile(path, []byte("SONGRANK_LOG_FORMAT=json\nSONGRANK_DEDUPE_SIZE=42\n"), 0o600), convey.ShouldBeNil)
			t.Setenv("SONGRANK_ENV_FILE", path)
			t.Cleanup(func() {
				_ = os.Unsetenv("SONGRANK_LOG_FORMAT")
				_ = os.Unsetenv("SONGRANK_DEDUPE_SIZE")
			})

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 42)
			})
		})

		convey.Convey("When the loaded values are invalid", func() {
			t.Setenv("SONGRANK_CATALOG_DRIVER", "oracle")
			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects them", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SONGRANK_CONFIG", "SONGRANK_ENV_FILE", "SONGRANK_ADDR", "SONGRANK_QUEUE_SIZE",
		"SONGRANK_WORKER_COUNT", "SONGRANK_QUALIFY_CUTOFF", "SONGRANK_SESSION_TTL",
		"SONGRANK_POINTS_PER_PLACE", "SONGRANK_LOG_FORMAT", "SONGRANK_DEDUPE_SIZE",
		"SONGRANK_CATALOG_DRIVER", "SONGRANK_SESSION_STORE",
	} {
		if _, ok := os.LookupEnv(k); ok {
			t.Setenv(k, "")
			_ = os.Unsetenv(k)
		}
	}
}
