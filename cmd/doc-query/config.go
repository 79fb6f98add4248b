package main

import (
	"errors"
	"strings"

	"github.com/theimaginaryfoundation/docquery/rag/config"
)

const (
	taskQuery  = "query"
	taskSearch = "search"
)

type Config struct {
	ConfigPath string
	// UsedConfig is the file the settings came from, "" for built-in defaults.
	UsedConfig string
	SaveConfig string

	Path    string
	Query   string
	Task    string
	OutPath string
	Pretty  bool
	APIKey  string

	File *config.File
}

func (c Config) Validate() error {
	if c.File == nil {
		return errors.New("config not loaded")
	}
	if err := c.File.Validate(); err != nil {
		return err
	}
	if c.SaveConfig != "" && c.Path == "" {
		return nil
	}
	if c.Path == "" {
		return errors.New("missing -path")
	}
	if strings.TrimSpace(c.Query) == "" {
		return errors.New("missing -query")
	}
	switch c.Task {
	case taskQuery, taskSearch:
	default:
		return errors.New("task must be query or search")
	}
	return nil
}

func defaultConfig() Config {
	return Config{Task: taskQuery}
}
