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
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

// EtcdNodeStore maps each node to the etcd key of its path, and an ancestor
// node exists implicitly as long as any of its descendant keys exists.
type EtcdNodeStore struct {
	client *clientv3.Client
	kv     clientv3.KV
}

func NewEtcdNodeStore(endpoints []string) (*EtcdNodeStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to connect etcd %v", endpoints)
	}
	return &EtcdNodeStore{client: cli, kv: cli.KV}, nil
}

// NewEtcdNodeStoreWithNamespace keeps all nodes under the key prefix, so that
// multiple launchers can share one etcd.
func NewEtcdNodeStoreWithNamespace(
	endpoints []string, keyPrefix string) (*EtcdNodeStore, error) {
	s, err := NewEtcdNodeStore(endpoints)
	if err != nil {
		return nil, err
	}
	s.kv = namespace.NewKV(s.client.KV, keyPrefix)
	return s, nil
}

func (s *EtcdNodeStore) GetData(ctx context.Context, nodePath string) ([]byte, error) {
	nodePath = cleanPath(nodePath)
	resp, err := s.kv.Get(ctx, nodePath)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to get etcd key %v", nodePath)
	}
	if len(resp.Kvs) > 0 {
		return resp.Kvs[0].Value, nil
	}

	exists, err := s.hasDescendants(ctx, nodePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoNode
	}
	return nil, nil
}

func (s *EtcdNodeStore) SetData(ctx context.Context, nodePath string, data []byte) error {
	nodePath = cleanPath(nodePath)
	_, err := s.kv.Put(ctx, nodePath, string(data))
	if err != nil {
		return errors.Wrapf(err, "Failed to put etcd key %v", nodePath)
	}
	return nil
}

func (s *EtcdNodeStore) DeleteNode(ctx context.Context, nodePath string) error {
	nodePath = cleanPath(nodePath)
	resp, err := s.kv.Txn(ctx).Then(
		clientv3.OpDelete(nodePath),
		clientv3.OpDelete(childPrefix(nodePath), clientv3.WithPrefix()),
	).Commit()
	if err != nil {
		return errors.Wrapf(err, "Failed to delete etcd key %v recursively", nodePath)
	}

	deleted := int64(0)
	for _, opResp := range resp.Responses {
		if deleteResp := opResp.GetResponseDeleteRange(); deleteResp != nil {
			deleted += deleteResp.Deleted
		}
	}
	if deleted == 0 {
		return ErrNoNode
	}
	return nil
}

func (s *EtcdNodeStore) GetChildren(ctx context.Context, nodePath string) ([]string, error) {
	nodePath = cleanPath(nodePath)
	prefix := childPrefix(nodePath)
	resp, err := s.kv.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list etcd keys under %v", prefix)
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	children := childNames(prefix, keys)
	if len(children) == 0 && nodePath != "/" {
		selfResp, err := s.kv.Get(ctx, nodePath, clientv3.WithCountOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to get etcd key %v", nodePath)
		}
		if selfResp.Count == 0 {
			return nil, ErrNoNode
		}
	}
	return children, nil
}

func (s *EtcdNodeStore) Close() error {
	return s.client.Close()
}

func (s *EtcdNodeStore) hasDescendants(ctx context.Context, nodePath string) (bool, error) {
	resp, err := s.kv.Get(ctx, childPrefix(nodePath),
		clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return false, errors.Wrapf(err, "Failed to count etcd keys under %v", nodePath)
	}
	return resp.Count > 0, nil
}

// childNames extracts the distinct direct child names from the descendant keys
// under the prefix.
func childNames(prefix string, keys []string) []string {
	names := map[string]bool{}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			names[rest] = true
		}
	}

	children := make([]string, 0, len(names))
	for name := range names {
		children = append(children, name)
	}
	sort.Strings(children)
	return children
}
