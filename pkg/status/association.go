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

package status

import (
	"fmt"
	"net"
	"sort"
	"strings"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/pkg/errors"
)

// IPResolver resolves the IP of a Container host.
type IPResolver func(host string) (string, error)

func LookupIPv4(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	if len(ips) > 0 {
		return ips[0].String(), nil
	}
	return "", fmt.Errorf("No IP is found for host %v", host)
}

// containerAssociation is all the Container info that will be recorded into
// the TaskStatus once it is associated with the Container.
type containerAssociation struct {
	containerID    string
	host           string
	ip             string
	logHTTPAddress string
	gpus           uint64
	ports          string
}

func buildContainerAssociation(
	container *ci.Container, ip string, amUser string,
	portDefinitions map[string]ci.PortDefinition) (*containerAssociation, error) {
	if container == nil || container.ID == "" {
		return nil, fmt.Errorf("Container to associate has no ID")
	}
	ports, err := ToPortString(portDefinitions, container.Resource.PortRanges)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Failed to pick ports from Container %v", container.ID)
	}
	return &containerAssociation{
		containerID: container.ID,
		host:        container.Host,
		ip:          ip,
		logHTTPAddress: fmt.Sprintf("http://%v/node/containerlogs/%v/%v",
			container.NodeHTTPAddress, container.ID, amUser),
		gpus:  container.Resource.GpuAttribute,
		ports: ports,
	}, nil
}

func (a *containerAssociation) applyTo(taskStatus *ci.TaskStatus) {
	taskStatus.ContainerID = common.PtrString(a.containerID)
	taskStatus.ContainerHost = common.PtrString(a.host)
	taskStatus.ContainerIP = common.PtrString(a.ip)
	taskStatus.ContainerLogHTTPAddress = common.PtrString(a.logHTTPAddress)
	taskStatus.ContainerConnectionLostCount = 0
	taskStatus.ContainerIsDecommissioning = common.PtrBool(false)
	gpus := a.gpus
	taskStatus.ContainerGpus = &gpus
	taskStatus.ContainerPorts = common.PtrString(a.ports)
}

func disassociateContainer(taskStatus *ci.TaskStatus) {
	taskStatus.ContainerID = nil
	taskStatus.ContainerHost = nil
	taskStatus.ContainerIP = nil
	taskStatus.ContainerLogHTTPAddress = nil
	taskStatus.ContainerConnectionLostCount = 0
	taskStatus.ContainerIsDecommissioning = nil
	taskStatus.ContainerLaunchedTimestamp = nil
	taskStatus.ContainerCompletedTimestamp = nil
	taskStatus.ContainerExitCode = nil
	taskStatus.ContainerExitDescription = nil
	taskStatus.ContainerExitDiagnostics = nil
	taskStatus.ContainerExitType = nil
	taskStatus.ContainerGpus = nil
	taskStatus.ContainerPorts = nil
}

const maxPort = 65535

// ToPortString picks the ports of each label from the allocated PortRanges,
// in the label order, and returns them like "http:80;ssh:2001,2002;".
// A PortDefinition with Start > 0 must be fully covered by the PortRanges,
// otherwise its ports are picked from the lowest unused ones.
func ToPortString(
	portDefinitions map[string]ci.PortDefinition,
	portRanges []ci.ValueRange) (string, error) {
	labels := []string{}
	for label, def := range portDefinitions {
		if def.Count > 0 {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return "", nil
	}
	sort.Strings(labels)

	inRanges := func(port int32) bool {
		for _, r := range portRanges {
			if r.Begin <= port && port <= r.End {
				return true
			}
		}
		return false
	}

	used := map[int32]bool{}
	// Fixed ports are reserved first so that they cannot be picked by others.
	for _, label := range labels {
		def := portDefinitions[label]
		if def.Start <= 0 {
			continue
		}
		if int64(def.Start)+int64(def.Count)-1 > maxPort {
			return "", fmt.Errorf(
				"Ports of label %v exceed the max port %v: start %v, count %v",
				label, maxPort, def.Start, def.Count)
		}
		for port := def.Start; port < def.Start+def.Count; port++ {
			if !inRanges(port) {
				return "", fmt.Errorf(
					"Port %v of label %v is not within the allocated PortRanges %v",
					port, label, common.ToJson(portRanges))
			}
			if used[port] {
				return "", fmt.Errorf(
					"Port %v of label %v is already defined by another label", port, label)
			}
			used[port] = true
		}
	}

	sortedRanges := append([]ci.ValueRange{}, portRanges...)
	sort.Slice(sortedRanges, func(i, j int) bool {
		return sortedRanges[i].Begin < sortedRanges[j].Begin
	})

	var sb strings.Builder
	for _, label := range labels {
		def := portDefinitions[label]
		ports := []string{}
		if def.Start > 0 {
			for port := def.Start; port < def.Start+def.Count; port++ {
				ports = append(ports, fmt.Sprint(port))
			}
		} else {
			for _, r := range sortedRanges {
				begin, end := r.Begin, r.End
				if begin < 1 {
					begin = 1
				}
				if end > maxPort {
					end = maxPort
				}
				for port := begin; port <= end && int32(len(ports)) < def.Count; port++ {
					if !used[port] {
						used[port] = true
						ports = append(ports, fmt.Sprint(port))
					}
				}
			}
			if int32(len(ports)) < def.Count {
				return "", fmt.Errorf(
					"Allocated PortRanges %v are insufficient for %v ports of label %v",
					common.ToJson(portRanges), def.Count, label)
			}
		}
		sb.WriteString(fmt.Sprintf("%v:%v;", label, strings.Join(ports, ",")))
	}
	return sb.String(), nil
}
