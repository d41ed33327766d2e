package config

const (
	defaultConfigPath             = "~/.config/jitstreamer/config.toml"
	defaultDataDir                = "~/.local/share/jitstreamer"
	defaultLogDir                 = "~/.local/share/jitstreamer/logs"
	defaultLockdownDir            = "/var/lib/lockdown"
	defaultDDIDir                 = "~/.local/share/jitstreamer/DDI"
	defaultBind                   = "::"
	defaultPort                   = 9172
	defaultMinClientVersion       = "0.2.0"
	defaultHeartbeatInterval      = 30
	defaultStoreRetryAttempts     = 50
	defaultStoreRetryBackoffMS    = 100
	defaultStoreBusyTimeoutMS     = 0
	defaultStatusPollSeconds      = 1
	defaultStatusTimeoutSeconds   = 15
	defaultHelperBinary           = "idevice-helper"
	defaultDeviceLabel            = "JitStreamer-EB"
	defaultConnectTimeoutSeconds  = 10
	defaultCredentialCacheSize    = 256
	defaultRunnerCount            = 10
	defaultRunnerRestartDelaySecs = 1
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			LockdownDir: defaultLockdownDir,
			DDIDir:      defaultDDIDir,
		},
		Server: Server{
			Bind:             defaultBind,
			Port:             defaultPort,
			MinClientVersion: defaultMinClientVersion,
		},
		Heartbeat: Heartbeat{
			IntervalSeconds: defaultHeartbeatInterval,
		},
		Store: Store{
			RetryAttempts:  defaultStoreRetryAttempts,
			RetryBackoffMS: defaultStoreRetryBackoffMS,
			BusyTimeoutMS:  defaultStoreBusyTimeoutMS,
		},
		Queue: Queue{
			StatusPollSeconds:    defaultStatusPollSeconds,
			StatusTimeoutSeconds: defaultStatusTimeoutSeconds,
		},
		Device: Device{
			HelperBinary:          defaultHelperBinary,
			Label:                 defaultDeviceLabel,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
		},
		Credentials: Credentials{
			CacheSize: defaultCredentialCacheSize,
		},
		Runner: Runner{
			Count:               defaultRunnerCount,
			RestartDelaySeconds: defaultRunnerRestartDelaySecs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
