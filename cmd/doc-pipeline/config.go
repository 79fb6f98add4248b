package main

import (
	"errors"
	"fmt"
	"path/filepath"
)

var allStages = []string{"summarize", "query"}

type Config struct {
	Path       string
	BaseDir    string
	ConfigPath string

	Query string
	Task  string

	Recursion int
	History   bool
	Debug     bool

	FromStage string
	OnlyStage string
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("missing -path")
	}
	if c.BaseDir == "" {
		return errors.New("missing -base-dir")
	}
	if c.Recursion < 0 {
		return errors.New("recursion must be >= 0")
	}
	if c.OnlyStage != "" && c.FromStage != "" {
		return errors.New("use only one of -only-stage or -from-stage")
	}
	for _, s := range []string{c.OnlyStage, c.FromStage} {
		if s != "" && !knownStage(s) {
			return fmt.Errorf("unknown stage %q (want summarize or query)", s)
		}
	}
	if c.OnlyStage == "query" && c.Query == "" {
		return errors.New("-only-stage query needs -query")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		BaseDir: filepath.FromSlash("docquery-out"),
		Task:    "query",
	}
}

func knownStage(s string) bool {
	for _, st := range allStages {
		if st == s {
			return true
		}
	}
	return false
}
