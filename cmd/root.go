// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// scmfsd mounts a source-control working copy on demand, fetching trees
// and blobs from a remote.Backend lazily as the kernel asks for them.
//
// Usage:
//
//	scmfsd daemon [flags]
//	scmfsd mount [flags] <name> <mount-point> <root>
//	scmfsd unmount [flags] <name>
//	scmfsd status [flags]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scmfsd/scmfsd/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// Config is the fully decoded, rationalized, validated configuration
	// every subcommand reads from -- populated by initConfig before
	// rootCmd.RunE/the chosen subcommand's RunE runs.
	Config cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "scmfsd",
	Short: "A FUSE daemon that materializes a source-control working copy on demand",
	Long: `scmfsd is a user-space virtual filesystem daemon: it presents a
source-control working copy as an ordinary directory tree, fetching
trees and blobs from a remote backend lazily as the kernel asks for
them instead of checking out the whole tree up front.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.Rationalize(&Config); err != nil {
			return fmt.Errorf("rationalizing config: %w", err)
		}
		if err := cfg.ValidateConfig(&Config); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(daemonCmd, mountCmd, unmountCmd, statusCmd)
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved := cfgFile
	if !filepath.IsAbs(resolved) {
		if wd, err := os.Getwd(); err == nil {
			resolved = filepath.Join(wd, resolved)
		}
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
}
