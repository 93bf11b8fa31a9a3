package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.MaxActiveEvents, convey.ShouldEqual, 100)
			convey.So(cfg.StrictParsing, convey.ShouldBeFalse)
			convey.So(cfg.ReconnectTimeoutSeconds, convey.ShouldEqual, 300)
			convey.So(cfg.ReconnectMaxAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.BackupRetentionCount, convey.ShouldEqual, 5)
			convey.So(cfg.HeartbeatTopic, convey.ShouldEqual, "gcn.heartbeat")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the duration helpers convert units", func() {
			convey.So(cfg.ReconnectTimeout(), convey.ShouldEqual, 300*time.Second)
			convey.So(cfg.ReconnectBaseDelay(), convey.ShouldEqual, time.Second)
			convey.So(cfg.ReconnectMaxDelay(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.ReconnectCooldown(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.PollTimeout(), convey.ShouldEqual, time.Second)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid values", t, func() {
		cases := map[string]func(c *config.Config){
			"zero capacity":       func(c *config.Config) { c.MaxActiveEvents = 0 },
			"negative retention":  func(c *config.Config) { c.BackupRetentionCount = -1 },
			"zero timeout":        func(c *config.Config) { c.ReconnectTimeoutSeconds = 0 },
			"zero attempts":       func(c *config.Config) { c.ReconnectMaxAttempts = 0 },
			"negative precision":  func(c *config.Config) { c.DecimalPrecision = -1 },
			"empty ledger path":   func(c *config.Config) { c.LedgerPath = "" },
			"empty window path":   func(c *config.Config) { c.WindowPath = "" },
			"empty heartbeat":     func(c *config.Config) { c.HeartbeatTopic = "" },
			"zero base delay":     func(c *config.Config) { c.ReconnectBaseDelayMillis = 0 },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			convey.Convey("Then "+name+" is rejected", func() {
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
