package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"avsync/internal/api"
	"avsync/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase resolves the daemon base URL: the --api flag wins, then the
// configured bind address, then the compiled-in default.
func (c *commandContext) apiBase() string {
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return normalizeBase(base)
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return normalizeBase(cfg.Paths.APIBind)
	}
	return "http://127.0.0.1:8710"
}

func (c *commandContext) client() *api.Client {
	return api.NewClient(c.apiBase())
}

func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "http://127.0.0.1:8710"
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/")
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
