// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/lumen3d/lumen/base/iox/tomlx"
	"github.com/lumen3d/lumen/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var files []string
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Long: "Config layers the given TOML files over the defaults, validates the result " +
			"and prints it, or saves it with --output.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := expandAll(files); err != nil {
				return err
			}
			if err := expandPaths(&out); err != nil {
				return err
			}
			cfg, err := config.Open(files...)
			if err != nil {
				return err
			}
			if out != "" {
				return cfg.Save(out)
			}
			return tomlx.Write(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&files, "config", "c", nil, "TOML configuration files, applied in order")
	cmd.Flags().StringVarP(&out, "output", "o", "", "file to save the configuration to")
	return cmd
}
