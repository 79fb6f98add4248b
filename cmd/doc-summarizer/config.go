package main

import (
	"errors"

	"github.com/theimaginaryfoundation/docquery/rag/config"
)

type Config struct {
	ConfigPath string
	UsedConfig string

	Path    string
	OutDir  string
	Author  string
	History bool
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
	if c.Path == "" {
		return errors.New("missing -path")
	}
	return nil
}

func defaultConfig() Config {
	return Config{}
}
