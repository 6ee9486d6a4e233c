package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "kinfolk"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host            string
		HttpPort        int    `yaml:"httpPort"`
		Hostname        string `yaml:"hostname"`
		Federate        bool   `yaml:"federate"`
		DeliveryWorkers int    `yaml:"deliveryWorkers"`
		DeliveryTimeout int    `yaml:"deliveryTimeout"` // seconds per outbound call
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("KINFOLK_HOST")
	envHttpPort := os.Getenv("KINFOLK_HTTPPORT")
	envHostname := os.Getenv("KINFOLK_HOSTNAME")
	envFederate := os.Getenv("KINFOLK_FEDERATE")
	envWorkers := os.Getenv("KINFOLK_DELIVERY_WORKERS")
	envTimeout := os.Getenv("KINFOLK_DELIVERY_TIMEOUT")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envHostname != "" {
		c.Conf.Hostname = envHostname
	}

	if envFederate == "true" {
		c.Conf.Federate = true
	}

	if envWorkers != "" {
		v, err := strconv.Atoi(envWorkers)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryWorkers = v
	}

	if envTimeout != "" {
		v, err := strconv.Atoi(envTimeout)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryTimeout = v
	}

	return c, nil
}
