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

package v1

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/microsoft/frameworklauncher/pkg/common"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeEtcd   StoreType = "etcd"
	StoreTypeRedis  StoreType = "redis"
)

type Config struct {
	// The durable store which persists the FrameworkRequests, the
	// FrameworkStatuses and the TaskStatuses.
	// StoreTypeMemory is only for test, the status will be lost after restart.
	StoreType     *StoreType `yaml:"storeType"`
	EtcdEndpoints []string   `yaml:"etcdEndpoints"`
	// If not empty, all etcd keys are put under this prefix.
	EtcdKeyPrefix *string `yaml:"etcdKeyPrefix"`
	RedisAddress  *string `yaml:"redisAddress"`
	// All nodes of the launcher are put under this root.
	StoreRootDir *string `yaml:"storeRootDir"`

	// KubeApiServerAddress is default to ${KUBE_APISERVER_ADDRESS}.
	// KubeConfigFilePath is default to ${KUBECONFIG} then falls back to ${HOME}/.kube/config.
	//
	// If both KubeApiServerAddress and KubeConfigFilePath after defaulting are still empty, falls back to the
	// [k8s inClusterConfig](https://kubernetes.io/docs/tasks/access-application-cluster/access-cluster/#accessing-the-api-from-a-pod).
	//
	// If both KubeApiServerAddress and KubeConfigFilePath after defaulting are not empty,
	// KubeApiServerAddress overrides the server address specified in the file referred by KubeConfigFilePath.
	//
	// Address should be in format http[s]://host:port
	KubeApiServerAddress *string `yaml:"kubeApiServerAddress"`
	KubeConfigFilePath   *string `yaml:"kubeConfigFilePath"`
	// The namespace to run the Applications.
	KubeNamespace *string `yaml:"kubeNamespace"`

	// Intervals of the launcher service periodical works.
	ServiceRequestPullIntervalSec *int64 `yaml:"serviceRequestPullIntervalSec"`
	ServiceRMResyncIntervalSec    *int64 `yaml:"serviceRMResyncIntervalSec"`
	ServiceStatusPushIntervalSec  *int64 `yaml:"serviceStatusPushIntervalSec"`

	// Bounded retry to set up the Application submission context, which may
	// race with the Framework removal.
	ApplicationSetupContextMaxRetryCount    *int32 `yaml:"applicationSetupContextMaxRetryCount"`
	ApplicationSetupContextRetryIntervalSec *int64 `yaml:"applicationSetupContextRetryIntervalSec"`

	// Bounded retry to retrieve the AMDiagnostics of a completed Application.
	ApplicationRetrieveDiagnosticsMaxRetryCount    *int32 `yaml:"applicationRetrieveDiagnosticsMaxRetryCount"`
	ApplicationRetrieveDiagnosticsRetryIntervalSec *int64 `yaml:"applicationRetrieveDiagnosticsRetryIntervalSec"`

	// If the Framework FancyRetryPolicy is enabled and its Application is
	// completed with TRANSIENT_CONFLICT ExitType, it will be retried after a
	// random delay within this range.
	// This helps to avoid the resource deadlock for Framework which needs
	// Gang Execution, i.e. all Tasks in the Framework should be executed in an
	// all-or-nothing fashion in order to perform any useful work.
	ApplicationTransientConflictMinDelaySec *int64 `yaml:"applicationTransientConflictMinDelaySec"`
	ApplicationTransientConflictMaxDelaySec *int64 `yaml:"applicationTransientConflictMaxDelaySec"`

	// The ApplicationMaster Container.
	AMImage   *string  `yaml:"amImage"`
	AMCommand []string `yaml:"amCommand"`
	AMUser    *string  `yaml:"amUser"`
	// Interval to push the dirty TaskStatuses to the durable store.
	AMStatusPushIntervalSec *int64 `yaml:"amStatusPushIntervalSec"`

	// Optional YAML file which defines the ExitType of user Container ExitCodes.
	UserContainerExitSpecFilePath *string `yaml:"userContainerExitSpecFilePath"`

	// Address to expose the Prometheus metrics, such as ":9090".
	// Empty means not to expose.
	MetricsAddress *string `yaml:"metricsAddress"`
}

func NewConfig() *Config {
	return LoadConfig(ConfigFilePath)
}

func LoadConfig(configFilePath string) *Config {
	c := initConfig(configFilePath)
	Default(c)
	Validate(c)
	return c
}

func Default(c *Config) {
	if c.StoreType == nil {
		storeType := StoreTypeEtcd
		c.StoreType = &storeType
	}
	if len(c.EtcdEndpoints) == 0 {
		c.EtcdEndpoints = []string{"127.0.0.1:2379"}
	}
	if c.EtcdKeyPrefix == nil {
		c.EtcdKeyPrefix = common.PtrString("")
	}
	if c.RedisAddress == nil {
		c.RedisAddress = common.PtrString("127.0.0.1:6379")
	}
	if c.StoreRootDir == nil {
		c.StoreRootDir = common.PtrString("/Launcher")
	}
	if c.KubeApiServerAddress == nil {
		c.KubeApiServerAddress = common.PtrString(EnvValueKubeApiServerAddress)
	}
	if c.KubeConfigFilePath == nil {
		c.KubeConfigFilePath = defaultKubeConfigFilePath()
	}
	if c.KubeNamespace == nil {
		c.KubeNamespace = common.PtrString("default")
	}
	if c.ServiceRequestPullIntervalSec == nil {
		c.ServiceRequestPullIntervalSec = common.PtrInt64(30)
	}
	if c.ServiceRMResyncIntervalSec == nil {
		c.ServiceRMResyncIntervalSec = common.PtrInt64(30)
	}
	if c.ServiceStatusPushIntervalSec == nil {
		c.ServiceStatusPushIntervalSec = common.PtrInt64(30)
	}
	if c.ApplicationSetupContextMaxRetryCount == nil {
		c.ApplicationSetupContextMaxRetryCount = common.PtrInt32(3)
	}
	if c.ApplicationSetupContextRetryIntervalSec == nil {
		c.ApplicationSetupContextRetryIntervalSec = common.PtrInt64(1)
	}
	if c.ApplicationRetrieveDiagnosticsMaxRetryCount == nil {
		c.ApplicationRetrieveDiagnosticsMaxRetryCount = common.PtrInt32(15)
	}
	if c.ApplicationRetrieveDiagnosticsRetryIntervalSec == nil {
		c.ApplicationRetrieveDiagnosticsRetryIntervalSec = common.PtrInt64(30)
	}
	if c.ApplicationTransientConflictMinDelaySec == nil {
		c.ApplicationTransientConflictMinDelaySec = common.PtrInt64(600)
	}
	if c.ApplicationTransientConflictMaxDelaySec == nil {
		c.ApplicationTransientConflictMaxDelaySec = common.PtrInt64(3600)
	}
	if c.AMImage == nil {
		c.AMImage = common.PtrString("frameworklauncher/frameworklauncher:latest")
	}
	if len(c.AMCommand) == 0 {
		c.AMCommand = []string{"frameworklauncher", "am"}
	}
	if c.AMUser == nil {
		c.AMUser = common.PtrString("launcher")
	}
	if c.AMStatusPushIntervalSec == nil {
		c.AMStatusPushIntervalSec = common.PtrInt64(30)
	}
	if c.MetricsAddress == nil {
		c.MetricsAddress = common.PtrString("")
	}
}

func Validate(c *Config) {
	errPrefix := "Config Validation Failed: "
	switch *c.StoreType {
	case StoreTypeMemory, StoreTypeEtcd, StoreTypeRedis:
	default:
		panic(fmt.Errorf(errPrefix+
			"StoreType %v should be one of %v, %v, %v",
			*c.StoreType, StoreTypeMemory, StoreTypeEtcd, StoreTypeRedis))
	}
	if len(*c.StoreRootDir) == 0 || (*c.StoreRootDir)[0] != '/' {
		panic(fmt.Errorf(errPrefix+
			"StoreRootDir %v should be an absolute path",
			*c.StoreRootDir))
	}
	if *c.ServiceRequestPullIntervalSec < 1 {
		panic(fmt.Errorf(errPrefix+
			"ServiceRequestPullIntervalSec %v should not be less than 1",
			*c.ServiceRequestPullIntervalSec))
	}
	if *c.ServiceRMResyncIntervalSec < 1 {
		panic(fmt.Errorf(errPrefix+
			"ServiceRMResyncIntervalSec %v should not be less than 1",
			*c.ServiceRMResyncIntervalSec))
	}
	if *c.ServiceStatusPushIntervalSec < 1 {
		panic(fmt.Errorf(errPrefix+
			"ServiceStatusPushIntervalSec %v should not be less than 1",
			*c.ServiceStatusPushIntervalSec))
	}
	if *c.AMStatusPushIntervalSec < 1 {
		panic(fmt.Errorf(errPrefix+
			"AMStatusPushIntervalSec %v should not be less than 1",
			*c.AMStatusPushIntervalSec))
	}
	if *c.ApplicationSetupContextMaxRetryCount < 0 {
		panic(fmt.Errorf(errPrefix+
			"ApplicationSetupContextMaxRetryCount %v should not be negative",
			*c.ApplicationSetupContextMaxRetryCount))
	}
	if *c.ApplicationRetrieveDiagnosticsMaxRetryCount < 0 {
		panic(fmt.Errorf(errPrefix+
			"ApplicationRetrieveDiagnosticsMaxRetryCount %v should not be negative",
			*c.ApplicationRetrieveDiagnosticsMaxRetryCount))
	}
	if *c.ApplicationSetupContextRetryIntervalSec < 0 {
		panic(fmt.Errorf(errPrefix+
			"ApplicationSetupContextRetryIntervalSec %v should not be negative",
			*c.ApplicationSetupContextRetryIntervalSec))
	}
	if *c.ApplicationRetrieveDiagnosticsRetryIntervalSec < 0 {
		panic(fmt.Errorf(errPrefix+
			"ApplicationRetrieveDiagnosticsRetryIntervalSec %v should not be negative",
			*c.ApplicationRetrieveDiagnosticsRetryIntervalSec))
	}
	if *c.ApplicationTransientConflictMinDelaySec < 0 {
		panic(fmt.Errorf(errPrefix+
			"ApplicationTransientConflictMinDelaySec %v should not be negative",
			*c.ApplicationTransientConflictMinDelaySec))
	}
	if *c.ApplicationTransientConflictMaxDelaySec <
		*c.ApplicationTransientConflictMinDelaySec {
		panic(fmt.Errorf(errPrefix+
			"ApplicationTransientConflictMaxDelaySec %v should not be less than "+
			"ApplicationTransientConflictMinDelaySec %v",
			*c.ApplicationTransientConflictMaxDelaySec,
			*c.ApplicationTransientConflictMinDelaySec))
	}
}

func defaultKubeConfigFilePath() *string {
	configPath := EnvValueKubeConfigFilePath
	_, err := os.Stat(configPath)
	if err == nil {
		return &configPath
	}

	configPath = DefaultKubeConfigFilePath
	_, err = os.Stat(configPath)
	if err == nil {
		return &configPath
	}

	configPath = ""
	return &configPath
}

func initConfig(configFilePath string) *Config {
	c := Config{}

	yamlBytes, err := ioutil.ReadFile(configFilePath)
	if err != nil {
		panic(fmt.Errorf(
			"Failed to read config file: %v, %v", configFilePath, err))
	}

	common.FromYaml(string(yamlBytes), &c)
	return &c
}

func BuildKubeConfig(cConfig *Config) *rest.Config {
	kConfig, err := clientcmd.BuildConfigFromFlags(
		*cConfig.KubeApiServerAddress, *cConfig.KubeConfigFilePath)
	if err != nil {
		panic(fmt.Errorf("Failed to build KubeConfig, please ensure "+
			"config kubeApiServerAddress or config kubeConfigFilePath or "+
			"${KUBE_APISERVER_ADDRESS} or ${KUBECONFIG} or ${HOME}/.kube/config or "+
			"${KUBERNETES_SERVICE_HOST}:${KUBERNETES_SERVICE_PORT} is valid: "+
			"Error: %v", err))
	}
	return kConfig
}
