package preference

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"vpnadm/backend/auth"
)

type AdminAccountUpdate struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

// Credentials maps the configured accounts into the auth service's shape.
func (pref *ApplicationConfig) Credentials() []auth.Credential {
	creds := make([]auth.Credential, 0, len(pref.Users))
	for _, u := range pref.Users {
		creds = append(creds, auth.Credential{Username: u.Username, PasswordHash: u.Password})
	}
	return creds
}

func (pref *ApplicationConfig) CreateUser(configDir string, updates AdminAccountUpdate) error {
	for _, u := range pref.Users {
		if u.Username == updates.Username {
			return fmt.Errorf("user %s already exists", updates.Username)
		}
	}
	encoded, err := bcrypt.GenerateFromPassword([]byte(updates.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	pref.Users = append(pref.Users, Account{
		Username: updates.Username,
		Password: string(encoded),
		Name:     updates.Name,
	})
	return pref.SavePreferences(configDir)
}

func (pref *ApplicationConfig) UpdateUser(configDir string, username string, updates AdminAccountUpdate) error {
	for i, u := range pref.Users {
		if u.Username == username {
			pref.Users[i].Username = updates.Username
			pref.Users[i].Name = updates.Name
			if len(updates.Password) > 0 {
				encoded, err := bcrypt.GenerateFromPassword([]byte(updates.Password), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				pref.Users[i].Password = string(encoded)
			}
			return pref.SavePreferences(configDir)
		}
	}
	return fmt.Errorf("user %s not found", username)
}

func (pref *ApplicationConfig) DeleteUser(configDir string, username string) error {
	for i, u := range pref.Users {
		if u.Username == username {
			pref.Users = append(pref.Users[:i], pref.Users[i+1:]...)
			return pref.SavePreferences(configDir)
		}
	}
	return fmt.Errorf("user %s not found", username)
}
