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

// Package local provides a local file system implementation of the object
// store facade, used for on-prem roots and tests.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

const dirPerm = 0o755

var _ remote.FS = (*fs)(nil)

type fs struct {
	baseDir string
}

// NewFS creates a new local file system rooted at baseDir. An empty baseDir
// makes all paths absolute paths of the host file system.
func NewFS(baseDir string) (remote.FS, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, dirPerm); err != nil {
			return nil, err
		}
	}
	return &fs{baseDir: baseDir}, nil
}

func (l *fs) fullPath(p string) string {
	p = strings.TrimPrefix(p, "file://")
	if l.baseDir == "" {
		return p
	}
	return filepath.Join(l.baseDir, p)
}

func (l *fs) Iterate(_ context.Context, dir string, visit func(name string) bool) error {
	entries, err := os.ReadDir(l.fullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(status.ErrNotFound, dir)
		}
		return err
	}
	for _, e := range entries {
		if !visit(e.Name()) {
			return nil
		}
	}
	return nil
}

func (l *fs) IterateEntries(_ context.Context, dir string, visit func(entry remote.DirEntry) bool) error {
	entries, err := os.ReadDir(l.fullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(status.ErrNotFound, dir)
		}
		return err
	}
	for _, e := range entries {
		de := remote.DirEntry{Name: e.Name(), Size: -1, IsDir: e.IsDir()}
		if info, errInfo := e.Info(); errInfo == nil {
			de.Size = info.Size()
			de.Mtime = info.ModTime().Unix()
		}
		if !visit(de) {
			return nil
		}
	}
	return nil
}

func (l *fs) DeleteFiles(_ context.Context, paths []string) error {
	for _, p := range paths {
		if err := os.Remove(l.fullPath(p)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "delete %s", p)
		}
	}
	return nil
}

func (l *fs) Upload(_ context.Context, path string, data io.Reader) error {
	fullPath := l.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), dirPerm); err != nil {
		return err
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, data)
	return err
}

func (l *fs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(l.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(status.ErrNotFound, path)
		}
		return nil, err
	}
	return f, nil
}

func (l *fs) Stat(_ context.Context, path string) (remote.DirEntry, error) {
	info, err := os.Stat(l.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return remote.DirEntry{}, errors.Wrap(status.ErrNotFound, path)
		}
		return remote.DirEntry{}, err
	}
	return remote.DirEntry{
		Name:  info.Name(),
		Size:  info.Size(),
		Mtime: info.ModTime().Unix(),
		IsDir: info.IsDir(),
	}, nil
}

func (l *fs) Close() error {
	return nil
}
