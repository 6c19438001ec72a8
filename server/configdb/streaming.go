package configdb

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override the stored streaming settings
const (
	EnvLiveKitURL   = "POINTER_LIVEKIT_URL"
	EnvLiveKitToken = "POINTER_LIVEKIT_TOKEN"
	EnvRoomName     = "POINTER_ROOM"
)

const DefaultPoseTopic = "pose"

// StreamingConfig is everything the session needs to join a room
type StreamingConfig struct {
	URL       string `json:"url"`
	Token     string `json:"-"`
	Room      string `json:"room"`
	PoseTopic string `json:"poseTopic"`
}

// IsConfigured is false when the server URL or the token is missing.
// The session refuses to connect in that case.
func (s StreamingConfig) IsConfigured() bool {
	return s.URL != "" && s.Token != ""
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process environment.
// Existing environment variables are not overwritten. A missing file is not an error.
func LoadEnvFile(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(filename)
}

// StreamingConfig reads the streaming settings from the database, with environment overrides applied on top.
func (c *ConfigDB) StreamingConfig() (StreamingConfig, error) {
	cfg := StreamingConfig{}
	for _, v := range []struct {
		key VariableKey
		dst *string
	}{
		{VarLiveKitURL, &cfg.URL},
		{VarLiveKitToken, &cfg.Token},
		{VarRoomName, &cfg.Room},
		{VarPoseTopic, &cfg.PoseTopic},
	} {
		value, err := c.GetVariable(v.key)
		if err != nil {
			return StreamingConfig{}, err
		}
		*v.dst = value
	}
	if env := os.Getenv(EnvLiveKitURL); env != "" {
		cfg.URL = env
	}
	if env := os.Getenv(EnvLiveKitToken); env != "" {
		cfg.Token = env
	}
	if env := os.Getenv(EnvRoomName); env != "" {
		cfg.Room = env
	}
	if cfg.PoseTopic == "" {
		cfg.PoseTopic = DefaultPoseTopic
	}
	return cfg, nil
}
