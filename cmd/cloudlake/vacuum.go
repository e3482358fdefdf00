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

	"github.com/spf13/cobra"

	lakev1 "github.com/cloudlake-db/cloudlake/api/lake/v1"
	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/lake/vacuum"
	"github.com/cloudlake-db/cloudlake/pkg/config"
	remoteconfig "github.com/cloudlake-db/cloudlake/pkg/fs/remote/config"
	"github.com/cloudlake-db/cloudlake/pkg/logger"
)

type vacuumOptions struct {
	root               string
	fsConfig           remoteconfig.S3Config
	tabletIDs          []uint
	minRetainVersion   int64
	graceTimestamp     int64
	minActiveTxnID     int64
	deleteTxnLog       bool
	enableFileBundling bool
}

func newVacuumCommand() *cobra.Command {
	var opts vacuumOptions
	var vacuumCfg = vacuum.DefaultConfig()
	logging := logger.Logging{}
	cmd := &cobra.Command{
		Use:               "vacuum",
		Short:             "Vacuum obsolete snapshots, data files and txn logs of a tablet group",
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
			mgr, err := tablet.NewManager(store, opts.root, tablet.DefaultMetacacheCapacity)
			if err != nil {
				return err
			}
			req := &lakev1.VacuumRequest{
				MinRetainVersion:   opts.minRetainVersion,
				GraceTimestamp:     opts.graceTimestamp,
				MinActiveTxnID:     opts.minActiveTxnID,
				DeleteTxnLog:       opts.deleteTxnLog,
				EnableFileBundling: opts.enableFileBundling,
			}
			for _, id := range opts.tabletIDs {
				req.TabletIDs = append(req.TabletIDs, uint64(id))
			}
			resp, err := vacuum.Vacuum(context.Background(), mgr, req)
			if err != nil {
				return err
			}
			logger.GetLogger("vacuum").Info().
				Int64("vacuumed_files", resp.VacuumedFiles).
				Int64("vacuumed_file_size", resp.VacuumedFileSize).
				Int64("vacuumed_version", resp.VacuumedVersion).
				Int64("extra_file_size", resp.ExtraFileSize).
				Msg("vacuum finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&logging.Env, "logging-env", "prod", "the logging environment")
	cmd.Flags().StringVar(&logging.Level, "logging-level", "info", "the root level of logging")
	cmd.Flags().StringVar(&opts.root, "root", "", "Partition root URL holding the tablet group")
	cmd.Flags().UintSliceVar(&opts.tabletIDs, "tablet-ids", nil, "Tablet ids to vacuum")
	cmd.Flags().Int64Var(&opts.minRetainVersion, "min-retain-version", 0, "Versions at or above this are always retained")
	cmd.Flags().Int64Var(&opts.graceTimestamp, "grace-timestamp", 0,
		"Unix seconds; the last snapshot committed before this is retained for in-flight queries")
	cmd.Flags().Int64Var(&opts.minActiveTxnID, "min-active-txn-id", 0, "Txn logs below this id are deletable")
	cmd.Flags().BoolVar(&opts.deleteTxnLog, "delete-txn-log", false, "Also sweep the txnlog directory")
	cmd.Flags().BoolVar(&opts.enableFileBundling, "enable-file-bundling", false,
		"The tablet group shares bundled partition-level metadata files")
	cmd.Flags().StringVar(&opts.fsConfig.S3ConfigFilePath, "s3-config-file", "", "Path to the s3 configuration file")
	cmd.Flags().StringVar(&opts.fsConfig.S3CredentialFilePath, "s3-credential-file", "", "Path to the s3 credential file")
	cmd.Flags().StringVar(&opts.fsConfig.S3ProfileName, "s3-profile", "", "S3 profile name")
	cmd.Flags().StringVar(&opts.fsConfig.S3StorageClass, "s3-storage-class", "", "S3 upload storage class")
	vacuumCfg.Flags(cmd.Flags())
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("tablet-ids")
	return cmd
}
