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

package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cloudlake-db/cloudlake/lake/vacuum"
	"github.com/cloudlake-db/cloudlake/pkg/config"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote/aws"
	remoteconfig "github.com/cloudlake-db/cloudlake/pkg/fs/remote/config"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote/local"
	"github.com/cloudlake-db/cloudlake/pkg/logger"
	"github.com/cloudlake-db/cloudlake/pkg/timestamp"
)

type gcOptions struct {
	root           string
	schedule       string
	fsConfig       remoteconfig.S3Config
	expiredSeconds int64
	doDelete       bool
}

// newFS dispatches on the URL scheme of dest.
func newFS(dest string, s3Cfg *remoteconfig.S3Config) (remote.FS, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid root URL %s", dest)
	}
	switch u.Scheme {
	case "", "file":
		return local.NewFS("")
	case "s3":
		return aws.NewFS(dest, &remoteconfig.FsConfig{S3: s3Cfg})
	default:
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func newGCCommand() *cobra.Command {
	var opts gcOptions
	var vacuumCfg = vacuum.DefaultConfig()
	logging := logger.Logging{}
	cmd := &cobra.Command{
		Use:               "gc",
		Short:             "Reclaim orphan data files under a lake root",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load("logging", cmd.Flags()); err != nil {
				return err
			}
			if err := logger.Init(logging); err != nil {
				return err
			}
			vacuum.SetConfig(vacuumCfg)
			store, err := newFS(opts.root, &opts.fsConfig)
			if err != nil {
				return err
			}
			defer store.Close()
			action := func() error {
				_, _, errGC := vacuum.DatafileGC(context.Background(), store, opts.root, opts.expiredSeconds, opts.doDelete)
				return errGC
			}
			if opts.schedule == "" {
				return action()
			}
			schedLogger := logger.GetLogger().Named("gc-scheduler")
			schedLogger.Info().Msgf("gc of %s will run with schedule: %s", opts.root, opts.schedule)
			sched, err := timestamp.NewSchedule(schedLogger, timestamp.NewClock(), opts.schedule,
				func(_ time.Time, l *logger.Logger) error {
					if errRun := action(); errRun != nil {
						l.Error().Err(errRun).Msg("gc failed")
					} else {
						l.Info().Msg("gc succeeded")
					}
					return nil
				})
			if err != nil {
				return err
			}
			sched.Start()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			schedLogger.Info().Msg("gc scheduler started, press Ctrl+C to exit")
			<-sigChan
			schedLogger.Info().Msg("shutting down gc scheduler...")
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&logging.Env, "logging-env", "prod", "the logging environment")
	cmd.Flags().StringVar(&logging.Level, "logging-level", "info", "the root level of logging")
	cmd.Flags().StringVar(&opts.root, "root", "", "Root URL to scan (e.g., s3://bucket/lake or file:///data/lake)")
	cmd.Flags().Int64Var(&opts.expiredSeconds, "expired-seconds", 3600,
		"Only data files whose mtime is at least this old are orphan candidates")
	cmd.Flags().BoolVar(&opts.doDelete, "do-delete", false, "Delete the orphan files instead of only reporting them")
	cmd.Flags().StringVar(
		&opts.schedule,
		"schedule",
		"",
		"Schedule expression for periodic gc. Options: @yearly, @monthly, @weekly, @daily, @hourly or @every <duration>",
	)
	cmd.Flags().StringVar(&opts.fsConfig.S3ConfigFilePath, "s3-config-file", "", "Path to the s3 configuration file")
	cmd.Flags().StringVar(&opts.fsConfig.S3CredentialFilePath, "s3-credential-file", "", "Path to the s3 credential file")
	cmd.Flags().StringVar(&opts.fsConfig.S3ProfileName, "s3-profile", "", "S3 profile name")
	cmd.Flags().StringVar(&opts.fsConfig.S3StorageClass, "s3-storage-class", "", "S3 upload storage class")
	vacuumCfg.Flags(cmd.Flags())
	_ = cmd.MarkFlagRequired("root")
	return cmd
}
