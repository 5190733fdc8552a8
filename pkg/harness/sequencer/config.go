package sequencer

import (
	"github.com/veilpay-labs/veilpay-harness/pkg/config"
	"github.com/veilpay-labs/veilpay-harness/pkg/config/env"
	"github.com/veilpay-labs/veilpay-harness/pkg/config/memory"
	"github.com/veilpay-labs/veilpay-harness/pkg/config/wrapper"
)

const (
	envConfigPrefix = "HARNESS_SEQUENCER_"

	WithdrawBeforeExternalConfigEnvName = envConfigPrefix + "WITHDRAW_BEFORE_EXTERNAL"
	defaultWithdrawBeforeExternal       = true

	EventBufferSizeConfigEnvName = envConfigPrefix + "EVENT_BUFFER_SIZE"
	defaultEventBufferSize       = 64
)

type conf struct {
	withdrawBeforeExternal config.Bool
	eventBufferSize        config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			withdrawBeforeExternal: env.NewBoolConfig(WithdrawBeforeExternalConfigEnvName, defaultWithdrawBeforeExternal),
			eventBufferSize:        env.NewUint64Config(EventBufferSizeConfigEnvName, defaultEventBufferSize),
		}
	}
}

type testOverrides struct {
	withdrawBeforeExternal bool
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			withdrawBeforeExternal: wrapper.NewBoolConfig(memory.NewConfig(overrides.withdrawBeforeExternal), defaultWithdrawBeforeExternal),
			eventBufferSize:        wrapper.NewUint64Config(memory.NewConfig(uint64(defaultEventBufferSize)), defaultEventBufferSize),
		}
	}
}
