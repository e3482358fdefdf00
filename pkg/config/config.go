// Licensed to Apache Software Foundation (ASF) under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Apache Software Foundation (ASF) licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package config loads configurations from flags, config files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// The environment variable prefix of all environment variables bound to our command line flags.
const envPrefix = "CLAKE"

type config struct {
	viper *viper.Viper
	name  string
}

// Load configurations from flags.
func Load(name string, fs *pflag.FlagSet) error {
	c := new(config)
	v := viper.New()
	c.name = name
	c.viper = v
	return c.initializeConfig(fs)
}

func (c *config) initializeConfig(fs *pflag.FlagSet) error {
	v := c.viper

	v.SetConfigName(c.name)
	v.AddConfigPath(".")

	// A missing config file is fine, a malformed one is not.
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	bindFlags(fs, v)
	return nil
}

// bindFlags binds each flag to its associated viper configuration.
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them, so bind them to their equivalent
		// keys with underscores, e.g. --favorite-color to CLAKE_FAVORITE_COLOR.
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			_ = v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix))
		}

		// Apply the viper config value to the flag when the flag is not set and viper has a value.
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			_ = fs.Set(f.Name, fmt.Sprintf("%v", val))
		}
	})
}
