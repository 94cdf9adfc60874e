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
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdEndpointsEnvVar enables the etcd cases, such as "127.0.0.1:2379".
const etcdEndpointsEnvVar = "FRAMEWORKLAUNCHER_TEST_ETCD_ENDPOINTS"

func etcdTestEndpoints(t *testing.T) []string {
	endpoints := os.Getenv(etcdEndpointsEnvVar)
	if endpoints == "" {
		t.Skipf("Skipping as etcd endpoints env variable (%v) is not set", etcdEndpointsEnvVar)
	}
	return strings.Split(endpoints, ",")
}

// withEtcdNodeStore isolates each case under a fresh key prefix, and deletes
// all keys under it afterwards.
func withEtcdNodeStore(t *testing.T, action func(s *EtcdNodeStore, keyPrefix string)) {
	keyPrefix := "/frameworklauncher-test-" + uuid.New().String()
	s, err := NewEtcdNodeStoreWithNamespace(etcdTestEndpoints(t), keyPrefix)
	require.NoError(t, err)
	defer s.Close()
	defer func() {
		_, err := s.client.Delete(context.Background(), keyPrefix, clientv3.WithPrefix())
		assert.NoError(t, err)
	}()
	action(s, keyPrefix)
}

func withRedisNodeStore(action func(s *RedisNodeStore)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	s := NewRedisNodeStore(client)
	defer s.Close()
	action(s)
}

func forEachNodeStore(t *testing.T, action func(t *testing.T, s NodeStore)) {
	t.Run("memory", func(t *testing.T) {
		action(t, NewMemoryNodeStore())
	})
	t.Run("redis", func(t *testing.T) {
		withRedisNodeStore(func(s *RedisNodeStore) {
			action(t, s)
		})
	})
	t.Run("etcd", func(t *testing.T) {
		withEtcdNodeStore(t, func(s *EtcdNodeStore, keyPrefix string) {
			action(t, s)
		})
	})
}

func TestNodeStore_GetMissingNode(t *testing.T) {
	forEachNodeStore(t, func(t *testing.T, s NodeStore) {
		ctx := context.Background()
		_, err := s.GetData(ctx, "/a/b")
		assert.True(t, IsNoNode(err))

		_, err = s.GetChildren(ctx, "/a")
		assert.True(t, IsNoNode(err))

		err = s.DeleteNode(ctx, "/a")
		assert.True(t, IsNoNode(err))
	})
}

func TestNodeStore_SetCreatesAncestors(t *testing.T) {
	forEachNodeStore(t, func(t *testing.T, s NodeStore) {
		ctx := context.Background()
		require.NoError(t, s.SetData(ctx, "/a/b/c", []byte("c")))
		require.NoError(t, s.SetData(ctx, "/a/b/d", []byte("d")))
		require.NoError(t, s.SetData(ctx, "/a/e", []byte("e")))

		data, err := s.GetData(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "c", string(data))

		data, err = s.GetData(ctx, "/a/b")
		require.NoError(t, err)
		assert.Empty(t, data)

		children, err := s.GetChildren(ctx, "/a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "e"}, children)

		children, err = s.GetChildren(ctx, "/a/b")
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, children)

		children, err = s.GetChildren(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Empty(t, children)
	})
}

func TestNodeStore_DeleteIsRecursive(t *testing.T) {
	forEachNodeStore(t, func(t *testing.T, s NodeStore) {
		ctx := context.Background()
		require.NoError(t, s.SetData(ctx, "/a/b/c", []byte("c")))
		require.NoError(t, s.SetData(ctx, "/a/bb", []byte("bb")))

		require.NoError(t, s.DeleteNode(ctx, "/a/b"))

		_, err := s.GetData(ctx, "/a/b/c")
		assert.True(t, IsNoNode(err))
		_, err = s.GetData(ctx, "/a/b")
		assert.True(t, IsNoNode(err))

		// Sibling sharing the name prefix is untouched.
		data, err := s.GetData(ctx, "/a/bb")
		require.NoError(t, err)
		assert.Equal(t, "bb", string(data))

		children, err := s.GetChildren(ctx, "/a")
		require.NoError(t, err)
		assert.Equal(t, []string{"bb"}, children)
	})
}

func TestNodeStore_Overwrite(t *testing.T) {
	forEachNodeStore(t, func(t *testing.T, s NodeStore) {
		ctx := context.Background()
		require.NoError(t, s.SetData(ctx, "/x", []byte("1")))
		require.NoError(t, s.SetData(ctx, "/x", []byte("2")))

		data, err := s.GetData(ctx, "/x")
		require.NoError(t, err)
		assert.Equal(t, "2", string(data))
	})
}

func TestEtcdNodeStore_NamespaceIsolation(t *testing.T) {
	withEtcdNodeStore(t, func(s *EtcdNodeStore, keyPrefix string) {
		ctx := context.Background()
		require.NoError(t, s.SetData(ctx, "/Launcher/Requests/fw", []byte("fw")))

		resp, err := s.client.Get(ctx, keyPrefix+"/Launcher/Requests/fw")
		require.NoError(t, err)
		require.Len(t, resp.Kvs, 1)
		assert.Equal(t, "fw", string(resp.Kvs[0].Value))
		// The implicit ancestors are never written.
		resp, err = s.client.Get(ctx, keyPrefix+"/Launcher", clientv3.WithCountOnly())
		require.NoError(t, err)
		assert.Equal(t, int64(0), resp.Count)

		other, err := NewEtcdNodeStoreWithNamespace(etcdTestEndpoints(t),
			"/frameworklauncher-test-"+uuid.New().String())
		require.NoError(t, err)
		defer other.Close()
		_, err = other.GetData(ctx, "/Launcher/Requests/fw")
		assert.True(t, IsNoNode(err))
		_, err = other.GetChildren(ctx, "/Launcher")
		assert.True(t, IsNoNode(err))
	})
}

func TestChildNames(t *testing.T) {
	names := childNames("/a/", []string{"/a/b", "/a/b/c", "/a/d/e", "/a/", "/ab/x"})
	assert.Equal(t, []string{"b", "d"}, names)
}
