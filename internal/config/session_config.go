package config

import "time"

type SessionConfig interface {
	GetDemoEmail() string
	GetDemoPassword() string
	GetAccessTokenTTL() time.Duration
	GetRefreshThreshold() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetDemoEmail() string {
	return GetEnv("DEMO_EMAIL", "demo@example.com")
}

func (Session) GetDemoPassword() string {
	return GetEnv("DEMO_PASSWORD", "demo-password")
}

func (Session) GetAccessTokenTTL() time.Duration {
	return getDuration("ACCESS_TOKEN_TTL", 30*time.Second)
}

func (Session) GetRefreshThreshold() time.Duration {
	return getDuration("REFRESH_THRESHOLD", 20*time.Second)
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
