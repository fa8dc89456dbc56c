// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	zconfig "github.com/antgroup/zeta-edge/config"
	"github.com/antgroup/zeta-edge/modules/coordinator"
	"github.com/antgroup/zeta-edge/modules/oss"
	"github.com/antgroup/zeta-edge/pkg/gitserve"
	"github.com/sirupsen/logrus"
)

var errMissingConfig = errors.New("zeta-serve gitd: missing database or bucket config")

// alarmInterval is the process-level tick driving every open coordinator's
// Alarm (spec.md §4.12); each coordinator's own exponential backoff governs
// how often compaction actually runs within that tick.
const alarmInterval = 15 * time.Second

// GitD runs the Git Smart HTTP front door (spec.md §6), one Registry of
// per-repo coordinators behind a single listener.
type GitD struct {
	Config string `short:"c" name:"config" help:"Location of server config file" default:"~/config/zeta-gitd.toml" type:"path"`
}

func (c *GitD) Run(globals *Globals) error {
	cfg, err := zconfig.Load(c.Config, globals.ExpandEnv)
	if err != nil {
		logrus.Errorf("zeta-serve gitd load config error: %v", err)
		return err
	}
	if cfg.DB == nil || cfg.Bucket == nil {
		logrus.Errorf("zeta-serve gitd: database and bucket are required")
		return errMissingConfig
	}

	bucketOpts := &oss.NewBucketOptions{
		Endpoint:        cfg.Bucket.Endpoint,
		Bucket:          cfg.Bucket.Name,
		AccessKeyID:     cfg.Bucket.AccessKeyID,
		AccessKeySecret: cfg.Bucket.AccessKeySecret,
		Region:          cfg.Bucket.Region,
		UsePathStyle:    cfg.Bucket.UsePathStyle,
	}
	registry := coordinator.NewRegistry(cfg.DB.DSNTemplate(), bucketOpts, cfg)

	srv, err := gitserve.NewServer(gitserve.FromConfig(cfg), registry)
	if err != nil {
		logrus.Errorf("zeta-serve gitd new server error: %v", err)
		return err
	}

	alarmCtx, cancelAlarms := context.WithCancel(context.Background())
	defer cancelAlarms()
	go registry.RunAlarms(alarmCtx, alarmInterval)

	closer := newCloser()
	go closer.listenSignal(context.Background(), srv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("zeta-serve gitd listen server error: %v", err)
		return err
	}
	<-closer.ch
	logrus.Infof("zeta-serve gitd exited")
	return nil
}
