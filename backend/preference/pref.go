package preference

import (
	"crypto/rand"
	b64 "encoding/base64"
	"encoding/json"
	"os"

	log "github.com/sirupsen/logrus"

	"vpnadm/backend/shell"
)

// ApplicationConfig is the durable configuration kept in
// <configDir>/config.json: admin accounts, token secrets and the auth
// tuning knobs. Secrets are stored base64 encoded.
type ApplicationConfig struct {
	Users                  []Account `json:"users"`
	AccessSecretData       string    `json:"accessSecret,omitempty"`
	RefreshSecretData      string    `json:"refreshSecret,omitempty"`
	AccessTokenTTLMinutes  int       `json:"accessTokenTtlMinutes,omitempty"`
	RefreshTokenTTLHours   int       `json:"refreshTokenTtlHours,omitempty"`
	MaxFailedAttempts      int       `json:"maxFailedAttempts,omitempty"`
	LockoutDurationMinutes int       `json:"lockoutDurationMinutes,omitempty"`
	EnforceIPBinding       bool      `json:"enforceIpBinding"`

	AccessSecret  []byte `json:"-"`
	RefreshSecret []byte `json:"-"`
}

type Account struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

func randomSecret(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("can't generate secret: %v", err)
	}
	return b
}

// LoadPreferences reads config.json, falling back to defaults when absent.
// Missing token secrets are generated and persisted so tokens survive a
// restart.
func LoadPreferences(pref *ApplicationConfig, configDir string) {
	pref.Users = make([]Account, 0)

	if _, err := os.Stat(configDir + "/config.json"); err == nil {
		rawJson := shell.ReadFile(configDir + "/config.json")
		if err := json.Unmarshal([]byte(rawJson), pref); err != nil {
			log.Errorf("can't decode config: %v", err)
			return
		}
	} else {
		log.Infof("no config file found in %s, using defaults", configDir)
	}

	dirty := false
	pref.AccessSecret, dirty = decodeOrGenerate(pref.AccessSecretData, dirty)
	pref.RefreshSecret, dirty = decodeOrGenerate(pref.RefreshSecretData, dirty)
	if dirty {
		if err := pref.SavePreferences(configDir); err != nil {
			log.Errorf("can't persist generated secrets: %v", err)
		}
	}
}

func decodeOrGenerate(encoded string, dirty bool) ([]byte, bool) {
	if len(encoded) == 0 {
		return randomSecret(64), true
	}
	secret, err := b64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Errorf("can't decode secret, generating a new one: %v", err)
		return randomSecret(64), true
	}
	return secret, dirty
}

func (pref *ApplicationConfig) SavePreferences(configDir string) error {
	pref.AccessSecretData = b64.StdEncoding.EncodeToString(pref.AccessSecret)
	pref.RefreshSecretData = b64.StdEncoding.EncodeToString(pref.RefreshSecret)
	rawJson, err := json.MarshalIndent(pref, "", "  ")
	if err != nil {
		return err
	}
	return shell.WriteFile(configDir+"/config.json", rawJson)
}
