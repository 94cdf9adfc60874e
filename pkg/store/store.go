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
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoNode is the cause of the error returned when the target node does not
// exist.
var ErrNoNode = errors.New("node does not exist")

func IsNoNode(err error) bool {
	return errors.Cause(err) == ErrNoNode
}

// NodeStore is a hierarchical key-value store:
// 1. A node is identified by an absolute slash separated path, such as /a/b.
// 2. A node exists if its data is set, or any of its descendants exists.
// 3. Each operation on a single node is linearizable.
type NodeStore interface {
	// Returns ErrNoNode if the node does not exist.
	// An existing node whose data is never set has nil data.
	GetData(ctx context.Context, nodePath string) ([]byte, error)
	// Creates the node and all its ancestors if they do not exist.
	SetData(ctx context.Context, nodePath string, data []byte) error
	// Deletes the node and all its descendants.
	// Returns ErrNoNode if the node does not exist.
	DeleteNode(ctx context.Context, nodePath string) error
	// Returns the sorted names of the direct children.
	// Returns ErrNoNode if the node does not exist.
	GetChildren(ctx context.Context, nodePath string) ([]string, error)
	Close() error
}

type CorruptedError struct {
	Path string
	Err  error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("Corrupted node %v: %v", e.Path, e.Err)
}

func IsCorrupted(err error) bool {
	_, ok := errors.Cause(err).(*CorruptedError)
	return ok
}

func cleanPath(nodePath string) string {
	if !strings.HasPrefix(nodePath, "/") {
		// Unreachable
		panic(fmt.Errorf("Node path %v is not absolute", nodePath))
	}
	return path.Clean(nodePath)
}

// ancestors returns the ancestors of the node, from the nearest one to the
// root, excluding the root itself.
func ancestors(nodePath string) []string {
	paths := []string{}
	for p := path.Dir(nodePath); p != "/"; p = path.Dir(p) {
		paths = append(paths, p)
	}
	return paths
}

func childPrefix(nodePath string) string {
	if nodePath == "/" {
		return "/"
	}
	return nodePath + "/"
}
