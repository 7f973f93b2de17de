package main

import (
	"fmt"
	"log/slog"

	"github.com/nmm0/ercoord"
	"github.com/nmm0/ercoord/config"
)

func openLibrary(gf *globalFlags) (*ercoord.Library, error) {
	return ercoord.Init(ercoord.Config{
		GroupDir: gf.cfg.Global.GroupDir,
		Log:      slog.Default(),
	})
}

func findSetConfig(gf *globalFlags, name string) (*config.SetConfig, error) {
	for i := range gf.cfg.Sets {
		if gf.cfg.Sets[i].Name == name {
			return &gf.cfg.Sets[i], nil
		}
	}
	return nil, fmt.Errorf("no configured set named %q", name)
}
