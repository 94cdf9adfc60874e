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
	"fmt"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	log "github.com/sirupsen/logrus"
)

// NewNodeStore connects the NodeStore backend selected by the Config.
func NewNodeStore(cConfig *ci.Config) (NodeStore, error) {
	switch *cConfig.StoreType {
	case ci.StoreTypeMemory:
		log.Warnf("Using memory NodeStore, the status will be lost after restart")
		return NewMemoryNodeStore(), nil
	case ci.StoreTypeEtcd:
		if *cConfig.EtcdKeyPrefix != "" {
			return NewEtcdNodeStoreWithNamespace(cConfig.EtcdEndpoints, *cConfig.EtcdKeyPrefix)
		}
		return NewEtcdNodeStore(cConfig.EtcdEndpoints)
	case ci.StoreTypeRedis:
		return NewRedisNodeStoreFromAddress(*cConfig.RedisAddress), nil
	default:
		// Unreachable
		panic(fmt.Errorf("Unsupported StoreType %v", *cConfig.StoreType))
	}
}

func NewLauncherStoreFromConfig(cConfig *ci.Config) (*LauncherStore, error) {
	nodes, err := NewNodeStore(cConfig)
	if err != nil {
		return nil, err
	}
	return NewLauncherStore(nodes, *cConfig.StoreRootDir), nil
}
