package config

type Config interface {
	EnvConfig
	SessionConfig
}

type mainConfig struct {
	EnvVars
	Session
}

func New() Config {
	return mainConfig{}
}
