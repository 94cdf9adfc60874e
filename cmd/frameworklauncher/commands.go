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

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	ci "github.com/microsoft/frameworklauncher/pkg/apis/frameworklauncher/v1"
	"github.com/microsoft/frameworklauncher/pkg/appmaster"
	"github.com/microsoft/frameworklauncher/pkg/common"
	"github.com/microsoft/frameworklauncher/pkg/controller"
	"github.com/microsoft/frameworklauncher/pkg/scheduler"
	"github.com/microsoft/frameworklauncher/pkg/service"
	"github.com/microsoft/frameworklauncher/pkg/store"
	"github.com/microsoft/frameworklauncher/pkg/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	stopTimeout  = 60 * time.Second
	restartDelay = 10 * time.Second
)

// exitError carries the process exit code out of cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("Exit with code %v", e.code)
}

// command executes to the process exit code.
type command struct {
	*cobra.Command
}

func (c command) Execute() int {
	err := c.Command.Execute()
	if err == nil {
		return 0
	}
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return ci.ExitCodeLauncherUnknownFailed
}

func rootCmd() command {
	var configFilePath string
	cmd := &cobra.Command{
		Use:           ci.ComponentName,
		Short:         "Launches long running and batch Frameworks on a cluster scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFilePath, "config", ci.ConfigFilePath,
		"Path of the launcher config file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "service",
			Short: "Runs the launcher service which drives all Frameworks",
			RunE: func(cmd *cobra.Command, args []string) error {
				return toExitError(runService(loadConfig(configFilePath)))
			},
		},
		&cobra.Command{
			Use:   "am",
			Short: "Runs the ApplicationMaster of the Framework given by the environments",
			RunE: func(cmd *cobra.Command, args []string) error {
				return toExitError(runApplicationMaster(loadConfig(configFilePath)))
			},
		},
	)
	return command{cmd}
}

func toExitError(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

func loadConfig(configFilePath string) *ci.Config {
	cConfig := ci.LoadConfig(configFilePath)
	common.LogLines("With Config: \n%v", common.ToYaml(cConfig))

	if cConfig.UserContainerExitSpecFilePath != nil {
		err := ci.AppendExitInfosFromFile(*cConfig.UserContainerExitSpecFilePath)
		if err != nil {
			panic(fmt.Errorf("Failed to load UserContainerExitSpec: %v", err))
		}
	}
	return cConfig
}

func serveMetrics(cConfig *ci.Config) {
	if *cConfig.MetricsAddress == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Infof("Serving metrics on %v", *cConfig.MetricsAddress)
		err := http.ListenAndServe(*cConfig.MetricsAddress, mux)
		log.Errorf("Stopped serving metrics: %v", err)
	}()
}

///////////////////////////////////////////////////////////////////////////////////////
// Service
///////////////////////////////////////////////////////////////////////////////////////
func runService(cConfig *ci.Config) int {
	serveMetrics(cConfig)
	kClient := util.CreateKubeClient(ci.BuildKubeConfig(cConfig))
	client := scheduler.NewKubeClient(kClient, *cConfig.KubeNamespace)

	return runInPlace("FrameworkLauncherService", func() (service.Lifecycle, func(), error) {
		lStore, err := store.NewLauncherStoreFromConfig(cConfig)
		if err != nil {
			return nil, nil, err
		}
		c := controller.NewFrameworkController(
			cConfig, lStore, client, controller.NewDefaultContextBuilder(cConfig))
		return c, func() { lStore.Close() }, nil
	})
}

///////////////////////////////////////////////////////////////////////////////////////
// ApplicationMaster
///////////////////////////////////////////////////////////////////////////////////////
func runApplicationMaster(cConfig *ci.Config) int {
	frameworkName := os.Getenv(ci.EnvNameFrameworkName)
	applicationID := os.Getenv(ci.EnvNameApplicationID)
	frameworkVersion, err := strconv.ParseInt(os.Getenv(ci.EnvNameFrameworkVersion), 10, 32)
	if frameworkName == "" || err != nil {
		log.Errorf("Invalid ApplicationMaster environments: %v: %v, %v: %v",
			ci.EnvNameFrameworkName, common.Quote(frameworkName),
			ci.EnvNameFrameworkVersion, err)
		return ci.ExitCodeLauncherNonTransientFailed
	}

	serveMetrics(cConfig)
	kClient := util.CreateKubeClient(ci.BuildKubeConfig(cConfig))
	releaser := appmaster.NewPodContainerReleaser(kClient, *cConfig.KubeNamespace)

	name := fmt.Sprintf("ApplicationMaster[%v][%v]", frameworkName, frameworkVersion)
	return runInPlace(name, func() (service.Lifecycle, func(), error) {
		lStore, err := store.NewLauncherStoreFromConfig(cConfig)
		if err != nil {
			return nil, nil, err
		}
		am := appmaster.NewApplicationMaster(
			cConfig, lStore, frameworkName, int32(frameworkVersion), applicationID,
			releaser, appmaster.LoggingObserver{})
		return am, func() { lStore.Close() }, nil
	})
}

///////////////////////////////////////////////////////////////////////////////////////
// Utils
///////////////////////////////////////////////////////////////////////////////////////

// runInPlace rebuilds and starts the Lifecycle until it is stopped without
// the need to restart, and returns the exit code.
// A SIGTERM or SIGINT stops the current Lifecycle without restart.
func runInPlace(
	name string, build func() (service.Lifecycle, func(), error)) int {
	var lock sync.Mutex
	var current *service.Service
	terminated := false

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		lock.Lock()
		defer lock.Unlock()
		terminated = true
		if current != nil {
			current.Stop(service.StopStatus{Code: 0, Reason: fmt.Sprintf("Received %v", sig)})
		}
	}()

	for {
		lifecycle, cleanup, err := build()
		if err != nil {
			log.Errorf("[%v]: Failed to build, will retry later: %v", name, err)
			time.Sleep(restartDelay)
			continue
		}

		s := service.NewService(name, lifecycle, stopTimeout)
		lock.Lock()
		if terminated {
			lock.Unlock()
			cleanup()
			return 0
		}
		current = s
		lock.Unlock()

		stopStatus := s.Start()
		cleanup()
		if !stopStatus.NeedRestart {
			return stopStatus.Code
		}
		log.Warnf("[%v]: Restarting in place after %v", name, restartDelay)
		time.Sleep(restartDelay)
	}
}
