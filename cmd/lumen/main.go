// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lumen renders scenes headless with the lumen engine,
// and prints the engine configuration.
//
//	lumen run --frames 120 --model helmet.glb
//	lumen run --config lumen.toml --frames 0 --watch
//	lumen config --config lumen.toml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/lumen3d/lumen/base/logx"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, logx.ErrorColor("lumen: "+err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lumen",
		Short:         "Render 3D scenes with the lumen engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var noColor bool
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor {
			logx.UseColor = false
		}
	}
	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

// expandPaths replaces a leading ~ in each non-empty path
// with the home directory of the user.
func expandPaths(paths ...*string) error {
	for _, p := range paths {
		if *p == "" {
			continue
		}
		e, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = e
	}
	return nil
}

func expandAll(paths []string) error {
	for i := range paths {
		if err := expandPaths(&paths[i]); err != nil {
			return err
		}
	}
	return nil
}
