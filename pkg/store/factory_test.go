// MIT License
//
// Copyright (c) Microsoft Corporation. All rights reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE

package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/google/uuid"
	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFactoryConfig(storeType ci.StoreType) *ci.Config {
	c := &ci.Config{StoreType: &storeType}
	ci.Default(c)
	return c
}

func TestNewLauncherStoreFromConfig_Memory(t *testing.T) {
	s, err := NewLauncherStoreFromConfig(newFactoryConfig(ci.StoreTypeMemory))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetFrameworkRequest(ctx, newTestRequest("fw", 1)))
	exists, err := s.ExistsFrameworkRequest(ctx, "fw", 1)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNewLauncherStoreFromConfig_Redis(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	c := newFactoryConfig(ci.StoreTypeRedis)
	c.RedisAddress = common.PtrString(db.Addr())
	c.StoreRootDir = common.PtrString("/Test")
	s, err := NewLauncherStoreFromConfig(c)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetFrameworkRequest(ctx, newTestRequest("fw", 2)))
	request, err := s.GetFrameworkRequest(ctx, "fw")
	require.NoError(t, err)
	assert.Equal(t, int32(2), request.Version())

	children, err := NewRedisNodeStoreFromAddress(db.Addr()).GetChildren(ctx, "/Test/Requests")
	require.NoError(t, err)
	assert.Equal(t, []string{"fw"}, children)
}

func TestNewLauncherStoreFromConfig_Etcd(t *testing.T) {
	c := newFactoryConfig(ci.StoreTypeEtcd)
	c.EtcdEndpoints = etcdTestEndpoints(t)
	c.EtcdKeyPrefix = common.PtrString("/frameworklauncher-test-" + uuid.New().String())
	s, err := NewLauncherStoreFromConfig(c)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	defer func() { assert.NoError(t, s.DeleteFrameworkRequest(ctx, "fw")) }()
	require.NoError(t, s.SetFrameworkRequest(ctx, newTestRequest("fw", 3)))
	request, err := s.GetFrameworkRequest(ctx, "fw")
	require.NoError(t, err)
	assert.Equal(t, int32(3), request.Version())
}
