package configdb

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cyclopcam/dbh"
)

// VariableKey is global configuration variables that can be set on the system
type VariableKey string

const (
	VarLiveKitURL     VariableKey = "LiveKitURL"     // Room server, eg wss://relay.example.com/rtc
	VarLiveKitToken   VariableKey = "LiveKitToken"   // Access token for the room server
	VarRoomName       VariableKey = "RoomName"       // Room to join
	VarPoseTopic      VariableKey = "PoseTopic"      // Data channel topic carrying pose frames
	VarInferenceURL   VariableKey = "InferenceURL"   // Base URL of the inference service
	VarCameraURL      VariableKey = "CameraURL"      // RTSP URL of the capture camera
	VarCameraUsername VariableKey = "CameraUsername" // RTSP username
	VarCameraPassword VariableKey = "CameraPassword" // RTSP password
)

var AllVariables = []VariableKey{
	VarLiveKitURL,
	VarLiveKitToken,
	VarRoomName,
	VarPoseTopic,
	VarInferenceURL,
	VarCameraURL,
	VarCameraUsername,
	VarCameraPassword,
}

var ErrUnknownVariable = errors.New("Unknown variable")

// Returns true if the value must not be echoed back over the API
func IsSecretVariable(v VariableKey) bool {
	return v == VarLiveKitToken || v == VarCameraPassword
}

// If true, then the streaming session must be torn down and reconnected after setting this variable
func VariableSetNeedsReconnect(v VariableKey) bool {
	switch v {
	case VarLiveKitURL, VarLiveKitToken, VarRoomName:
		return true
	}
	return false
}

// If true, then the new value is only read when the process starts
func VariableSetNeedsRestart(v VariableKey) bool {
	switch v {
	case VarPoseTopic, VarCameraURL, VarCameraUsername, VarCameraPassword:
		return true
	}
	return false
}

func ValidateVariable(v VariableKey, value string) error {
	known := false
	for _, k := range AllVariables {
		if k == v {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w '%v'", ErrUnknownVariable, v)
	}
	if value == "" {
		return nil
	}
	switch v {
	case VarLiveKitURL:
		return validateURL(value, "ws", "wss", "http", "https")
	case VarInferenceURL:
		return validateURL(value, "http", "https")
	case VarCameraURL:
		return validateURL(value, "rtsp", "rtsps")
	case VarRoomName, VarPoseTopic:
		if strings.TrimSpace(value) != value {
			return fmt.Errorf("%v may not have leading or trailing whitespace", v)
		}
	}
	return nil
}

func validateURL(value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("Invalid URL '%v': %w", value, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("URL '%v' has no host", value)
			}
			return nil
		}
	}
	return fmt.Errorf("URL scheme must be one of %v, but got '%v'", strings.Join(schemes, ", "), u.Scheme)
}

// GetVariable returns the stored value, or an empty string if the variable has never been set
func (c *ConfigDB) GetVariable(key VariableKey) (string, error) {
	values, err := dbh.ScanArray[string](c.DB.Raw("SELECT value FROM variable WHERE key = ?", string(key)).Rows())
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

// SetVariable stores the value. An empty value removes the variable.
func (c *ConfigDB) SetVariable(key VariableKey, value string) error {
	if err := ValidateVariable(key, value); err != nil {
		return err
	}
	if value == "" {
		return c.DB.Exec("DELETE FROM variable WHERE key = ?", string(key)).Error
	}
	return c.DB.Exec("INSERT INTO variable (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value", string(key), value).Error
}

func (c *ConfigDB) GetVariableValues() ([]Variable, error) {
	values := []Variable{}
	if err := c.DB.Order("key").Find(&values).Error; err != nil {
		return nil, err
	}
	return values, nil
}
