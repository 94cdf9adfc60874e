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
	"path"
	"sort"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const (
	redisNodeKeyPrefix     = "node:"
	redisChildrenKeyPrefix = "children:"
)

// RedisNodeStore keeps the data of each node in a string key and the names
// of its direct children in a set key.
type RedisNodeStore struct {
	db redis.UniversalClient
}

func NewRedisNodeStore(db redis.UniversalClient) *RedisNodeStore {
	return &RedisNodeStore{db: db}
}

func NewRedisNodeStoreFromAddress(address string) *RedisNodeStore {
	return NewRedisNodeStore(redis.NewClient(&redis.Options{Addr: address}))
}

func redisNodeKey(nodePath string) string {
	return redisNodeKeyPrefix + nodePath
}

func redisChildrenKey(nodePath string) string {
	return redisChildrenKeyPrefix + nodePath
}

func (s *RedisNodeStore) GetData(ctx context.Context, nodePath string) ([]byte, error) {
	nodePath = cleanPath(nodePath)
	data, err := s.db.Get(redisNodeKey(nodePath)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoNode
	} else if err != nil {
		return nil, errors.Wrapf(err, "Failed to get redis node %v", nodePath)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *RedisNodeStore) SetData(ctx context.Context, nodePath string, data []byte) error {
	nodePath = cleanPath(nodePath)
	_, err := s.db.TxPipelined(func(pipe redis.Pipeliner) error {
		child := nodePath
		for _, ancestor := range ancestors(nodePath) {
			pipe.SetNX(redisNodeKey(ancestor), "", 0)
			pipe.SAdd(redisChildrenKey(ancestor), path.Base(child))
			child = ancestor
		}
		pipe.SAdd(redisChildrenKey("/"), path.Base(child))
		pipe.Set(redisNodeKey(nodePath), data, 0)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "Failed to set redis node %v", nodePath)
	}
	return nil
}

func (s *RedisNodeStore) DeleteNode(ctx context.Context, nodePath string) error {
	nodePath = cleanPath(nodePath)
	exists, err := s.db.Exists(redisNodeKey(nodePath)).Result()
	if err != nil {
		return errors.Wrapf(err, "Failed to check redis node %v", nodePath)
	}
	if exists == 0 {
		return ErrNoNode
	}

	keys := []string{}
	pending := []string{nodePath}
	for len(pending) > 0 {
		p := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		keys = append(keys, redisNodeKey(p), redisChildrenKey(p))

		children, err := s.db.SMembers(redisChildrenKey(p)).Result()
		if err != nil {
			return errors.Wrapf(err, "Failed to list redis node %v", p)
		}
		for _, child := range children {
			pending = append(pending, path.Join(p, child))
		}
	}

	_, err = s.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(keys...)
		pipe.SRem(redisChildrenKey(path.Dir(nodePath)), path.Base(nodePath))
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "Failed to delete redis node %v recursively", nodePath)
	}
	return nil
}

func (s *RedisNodeStore) GetChildren(ctx context.Context, nodePath string) ([]string, error) {
	nodePath = cleanPath(nodePath)
	if nodePath != "/" {
		exists, err := s.db.Exists(redisNodeKey(nodePath)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to check redis node %v", nodePath)
		}
		if exists == 0 {
			return nil, ErrNoNode
		}
	}

	children, err := s.db.SMembers(redisChildrenKey(nodePath)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list redis node %v", nodePath)
	}
	sort.Strings(children)
	return children, nil
}

func (s *RedisNodeStore) Close() error {
	return s.db.Close()
}
