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
	"sync"
)

// MemoryNodeStore keeps all nodes in the process memory, so it is only
// suitable for test and for a launcher which does not need to recover.
type MemoryNodeStore struct {
	lock  sync.RWMutex
	nodes map[string][]byte
}

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{nodes: map[string][]byte{}}
}

func (s *MemoryNodeStore) GetData(ctx context.Context, nodePath string) ([]byte, error) {
	nodePath = cleanPath(nodePath)
	s.lock.RLock()
	defer s.lock.RUnlock()

	data, ok := s.nodes[nodePath]
	if !ok {
		return nil, ErrNoNode
	}
	if data == nil {
		return nil, nil
	}
	return append([]byte{}, data...), nil
}

func (s *MemoryNodeStore) SetData(ctx context.Context, nodePath string, data []byte) error {
	nodePath = cleanPath(nodePath)
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, ancestor := range ancestors(nodePath) {
		if _, ok := s.nodes[ancestor]; !ok {
			s.nodes[ancestor] = nil
		}
	}
	if data == nil {
		data = []byte{}
	}
	s.nodes[nodePath] = append([]byte{}, data...)
	return nil
}

func (s *MemoryNodeStore) DeleteNode(ctx context.Context, nodePath string) error {
	nodePath = cleanPath(nodePath)
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.nodes[nodePath]; !ok {
		return ErrNoNode
	}
	prefix := childPrefix(nodePath)
	for p := range s.nodes {
		if p == nodePath || strings.HasPrefix(p, prefix) {
			delete(s.nodes, p)
		}
	}
	return nil
}

func (s *MemoryNodeStore) GetChildren(ctx context.Context, nodePath string) ([]string, error) {
	nodePath = cleanPath(nodePath)
	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, ok := s.nodes[nodePath]; !ok && nodePath != "/" {
		return nil, ErrNoNode
	}
	prefix := childPrefix(nodePath)
	children := []string{}
	for p := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			name := strings.TrimPrefix(p, prefix)
			if !strings.Contains(name, "/") {
				children = append(children, name)
			}
		}
	}
	sort.Strings(children)
	return children, nil
}

func (s *MemoryNodeStore) Close() error {
	return nil
}
