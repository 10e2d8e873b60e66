package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// This may expand in future versions
type CoordinatorConfig struct {
	Hostname string `json:"hostname"`
	Database string `json:"database"`

	// Engine selects the Protocol Engine: "frosted" or "echo".
	Engine string `json:"engine"`

	// SealIdentityFile, when set, points at an age identity used to
	// encrypt engine state and working sets at rest.
	SealIdentityFile string `json:"seal-identity-file,omitempty"`

	// Ceremony max ages, in minutes. Keygen ceremonies are rarer and less
	// latency-sensitive, so they get longer to finish.
	KeygenMaxAgeMinutes  int `json:"keygen-max-age-minutes"`
	SigningMaxAgeMinutes int `json:"signing-max-age-minutes"`

	// SweepIntervalSeconds is how often the janitor looks for stale
	// ceremonies.
	SweepIntervalSeconds int `json:"sweep-interval-seconds"`
}

func getConfigFile() (string, error) {
	if path := os.Getenv("RIME_COORDINATOR_CONFIG"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rime-coordinator.json"), nil
}

// Default user config
func NewServerConfig() (CoordinatorConfig, error) {
	config := CoordinatorConfig{
		Hostname:             "localhost:8471",
		Database:             "./database.sqlite",
		Engine:               "frosted",
		KeygenMaxAgeMinutes:  24 * 60,
		SigningMaxAgeMinutes: 60,
		SweepIntervalSeconds: 60,
	}
	err := config.Save()
	if err != nil {
		return CoordinatorConfig{}, err
	}
	return config, nil
}

// Load the user config from a saved file
func LoadServerConfig() (CoordinatorConfig, error) {
	configPath, err := getConfigFile()
	if err != nil {
		return CoordinatorConfig{}, err
	}

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewServerConfig()
		}
		return CoordinatorConfig{}, err
	}
	defer file.Close()

	var conf CoordinatorConfig
	if err := json.NewDecoder(file).Decode(&conf); err != nil {
		return CoordinatorConfig{}, err
	}
	return conf, err
}

func (cfg CoordinatorConfig) Save() error {
	configPath, err := getConfigFile()
	if err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ") // pretty-print
	return encoder.Encode(cfg)
}
