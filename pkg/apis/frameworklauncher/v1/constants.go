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
	"strings"

	"github.com/microsoft/frameworklauncher/pkg/common"
)

func init() {
	initExitInfos()
}

///////////////////////////////////////////////////////////////////////////////////////
// General Constants
///////////////////////////////////////////////////////////////////////////////////////
const (
	ComponentName   = "frameworklauncher"
	ApplicationType = "LAUNCHER"

	ConfigFilePath         = "./frameworklauncher.yaml"
	UnlimitedValue         = -1
	ExtendedUnlimitedValue = -2

	// Exit codes of the launcher process itself
	ExitCodeLauncherUnknownFailed      = 200
	ExitCodeLauncherTransientFailed    = 201
	ExitCodeLauncherNonTransientFailed = 202

	// For the Application managed by the launcher
	// Predefined Labels and Annotations
	LabelKeyApplicationType       = "frameworklauncher.microsoft.com/application-type"
	AnnotationKeyFrameworkName    = "frameworklauncher.microsoft.com/framework-name"
	AnnotationKeyFrameworkVersion = "frameworklauncher.microsoft.com/framework-version"
	AnnotationKeyApplicationName  = "frameworklauncher.microsoft.com/application-name"
	AMContainerName               = "application-master"

	// For the ApplicationMaster
	// Predefined Environment Variables
	EnvNameFrameworkName    = "FRAMEWORK_NAME"
	EnvNameFrameworkVersion = "FRAMEWORK_VERSION"
	EnvNameApplicationID    = "APPLICATION_ID"
	EnvNameAMUser           = "AM_USER"
)

var EnvValueKubeApiServerAddress = os.Getenv("KUBE_APISERVER_ADDRESS")
var EnvValueKubeConfigFilePath = os.Getenv("KUBECONFIG")
var DefaultKubeConfigFilePath = os.Getenv("HOME") + "/.kube/config"

///////////////////////////////////////////////////////////////////////////////////////
// Raw Container ExitStatus
// Reported by the container runtime for the Containers of a Task.
///////////////////////////////////////////////////////////////////////////////////////
const (
	RawExitStatusSuccess                  int32 = 0
	RawExitStatusInvalid                  int32 = -1000
	RawExitStatusAborted                  int32 = -100
	RawExitStatusDisksFailed              int32 = -101
	RawExitStatusPreempted                int32 = -102
	RawExitStatusKilledExceededVmem       int32 = -103
	RawExitStatusKilledExceededPmem       int32 = -104
	RawExitStatusKilledByAppMaster        int32 = -105
	RawExitStatusKilledByResourceManager  int32 = -106
	RawExitStatusKilledAfterAppCompletion int32 = -107
)

///////////////////////////////////////////////////////////////////////////////////////
// ExitInfos
///////////////////////////////////////////////////////////////////////////////////////
type ExitCode int32

func (c ExitCode) Ptr() *ExitCode {
	return &c
}

type ExitInfo struct {
	Code        *ExitCode `yaml:"code" json:"code"`
	Description string    `yaml:"description" json:"description"`
	Type        ExitType  `yaml:"type" json:"type"`
}

// Represent [Min, Max].
type ExitCodeRange struct {
	Min ExitCode
	Max ExitCode
}

var ExitCodeReservedUserContainer = ExitCodeRange{200, 219}
var ExitCodeReservedLauncher = ExitCodeRange{-7999, -7000}

const (
	// [200, 219]: Predefined User Container ExitCode
	// It is Reserved for the Contract between user Container and the launcher,
	// so user Container should avoid unintendedly exit within the range.
	ExitCodeContainerTransientFailed         ExitCode = 200
	ExitCodeContainerTransientConflictFailed ExitCode = 201
	ExitCodeContainerNonTransientFailed      ExitCode = 210

	// [0, 0]: Succeeded
	ExitCodeSucceeded ExitCode = 0

	// [-7999, -7000]: Predefined Launcher Error
	// -70XX: Container ExitStatus not from the user process
	ExitCodeContainerInvalidExitStatus      ExitCode = -7000
	ExitCodeContainerNotAvailableExitStatus ExitCode = -7001
	ExitCodeContainerNodeDisksFailed        ExitCode = -7002
	ExitCodeContainerPortConflict           ExitCode = -7003
	// -71XX: Container killed or aborted
	ExitCodeContainerAborted                  ExitCode = -7100
	ExitCodeContainerNodeLost                 ExitCode = -7101
	ExitCodeContainerExpired                  ExitCode = -7102
	ExitCodeContainerAbortedOnAMRestart       ExitCode = -7103
	ExitCodeContainerPreempted                ExitCode = -7104
	ExitCodeContainerVirtualMemoryExceeded    ExitCode = -7105
	ExitCodeContainerPhysicalMemoryExceeded   ExitCode = -7106
	ExitCodeContainerKilledByAM               ExitCode = -7107
	ExitCodeContainerKilledByRM               ExitCode = -7108
	ExitCodeContainerKilledOnAppCompletion    ExitCode = -7109
	ExitCodeContainerNodeManagerResyncLost    ExitCode = -7110
	ExitCodeContainerNodeManagerResyncExpired ExitCode = -7111
	// -72XX: Application
	ExitCodeAppSubmissionProtocolError            ExitCode = -7200
	ExitCodeAppSubmissionIOError                  ExitCode = -7201
	ExitCodeAppSubmissionUnknownError             ExitCode = -7202
	ExitCodeAppKilledUnexpectedly                 ExitCode = -7203
	ExitCodeAppRMResyncLost                       ExitCode = -7204
	ExitCodeAppStopFrameworkRequested             ExitCode = -7205
	ExitCodeAppAMDiagnosticsLost                  ExitCode = -7206
	ExitCodeAppAMDiagnosticsDeserializationFailed ExitCode = -7207
	// -73XX: ApplicationMaster internal
	ExitCodeAMInternalTransientNormalError   ExitCode = -7300
	ExitCodeAMInternalTransientConflictError ExitCode = -7301
	ExitCodeAMInternalNonTransientError      ExitCode = -7302
	ExitCodeAMInternalUnknownError           ExitCode = -7303
)

var ExitInfoList = []*ExitInfo{}
var ExitInfoMap = map[ExitCode]*ExitInfo{}

func initExitInfos() {
	AppendExitInfos([]*ExitInfo{
		{ExitCodeContainerTransientFailed.Ptr(),
			"ContainerTransientFailed", ExitTypeTransientNormal},
		{ExitCodeContainerTransientConflictFailed.Ptr(),
			"ContainerTransientConflictFailed", ExitTypeTransientConflict},
		{ExitCodeContainerNonTransientFailed.Ptr(),
			"ContainerNonTransientFailed", ExitTypeNonTransient},
		{ExitCodeSucceeded.Ptr(),
			"Succeeded", ExitTypeSucceeded},
		{ExitCodeContainerInvalidExitStatus.Ptr(),
			"ContainerInvalidExitStatus", ExitTypeUnknown},
		{ExitCodeContainerNotAvailableExitStatus.Ptr(),
			"ContainerNotAvailableExitStatus", ExitTypeUnknown},
		{ExitCodeContainerNodeDisksFailed.Ptr(),
			"ContainerNodeDisksFailed", ExitTypeTransientNormal},
		{ExitCodeContainerPortConflict.Ptr(),
			"ContainerPortConflict", ExitTypeTransientNormal},
		{ExitCodeContainerAborted.Ptr(),
			"ContainerAborted", ExitTypeTransientNormal},
		{ExitCodeContainerNodeLost.Ptr(),
			"ContainerNodeLost", ExitTypeTransientNormal},
		{ExitCodeContainerExpired.Ptr(),
			"ContainerExpired", ExitTypeTransientNormal},
		{ExitCodeContainerAbortedOnAMRestart.Ptr(),
			"ContainerAbortedOnAMRestart", ExitTypeTransientNormal},
		{ExitCodeContainerPreempted.Ptr(),
			"ContainerPreempted", ExitTypeTransientNormal},
		{ExitCodeContainerVirtualMemoryExceeded.Ptr(),
			"ContainerVirtualMemoryExceeded", ExitTypeNonTransient},
		{ExitCodeContainerPhysicalMemoryExceeded.Ptr(),
			"ContainerPhysicalMemoryExceeded", ExitTypeNonTransient},
		{ExitCodeContainerKilledByAM.Ptr(),
			"ContainerKilledByAM", ExitTypeTransientNormal},
		{ExitCodeContainerKilledByRM.Ptr(),
			"ContainerKilledByRM", ExitTypeTransientNormal},
		{ExitCodeContainerKilledOnAppCompletion.Ptr(),
			"ContainerKilledOnAppCompletion", ExitTypeTransientNormal},
		{ExitCodeContainerNodeManagerResyncLost.Ptr(),
			"ContainerNodeManagerResyncLost", ExitTypeTransientNormal},
		{ExitCodeContainerNodeManagerResyncExpired.Ptr(),
			"ContainerNodeManagerResyncExpired", ExitTypeTransientNormal},
		{ExitCodeAppSubmissionProtocolError.Ptr(),
			"AppSubmissionProtocolError", ExitTypeNonTransient},
		{ExitCodeAppSubmissionIOError.Ptr(),
			"AppSubmissionIOError", ExitTypeTransientNormal},
		{ExitCodeAppSubmissionUnknownError.Ptr(),
			"AppSubmissionUnknownError", ExitTypeUnknown},
		{ExitCodeAppKilledUnexpectedly.Ptr(),
			"AppKilledUnexpectedly", ExitTypeUnknown},
		{ExitCodeAppRMResyncLost.Ptr(),
			"AppRMResyncLost", ExitTypeTransientNormal},
		{ExitCodeAppStopFrameworkRequested.Ptr(),
			"AppStopFrameworkRequested", ExitTypeNonTransient},
		{ExitCodeAppAMDiagnosticsLost.Ptr(),
			"AppAMDiagnosticsLost", ExitTypeUnknown},
		{ExitCodeAppAMDiagnosticsDeserializationFailed.Ptr(),
			"AppAMDiagnosticsDeserializationFailed", ExitTypeUnknown},
		{ExitCodeAMInternalTransientNormalError.Ptr(),
			"AMInternalTransientNormalError", ExitTypeTransientNormal},
		{ExitCodeAMInternalTransientConflictError.Ptr(),
			"AMInternalTransientConflictError", ExitTypeTransientConflict},
		{ExitCodeAMInternalNonTransientError.Ptr(),
			"AMInternalNonTransientError", ExitTypeNonTransient},
		{ExitCodeAMInternalUnknownError.Ptr(),
			"AMInternalUnknownError", ExitTypeUnknown},
	})
}

func AppendExitInfos(exitInfos []*ExitInfo) {
	for _, exitInfo := range exitInfos {
		if existingExitInfo, ok := ExitInfoMap[*exitInfo.Code]; ok {
			// Unreachable
			panic(fmt.Errorf(
				"Failed to append ExitInfo due to duplicated ExitCode:"+
					"\nExisting ExitInfo:\n%v,\nAppending ExitInfo:\n%v",
				common.ToYaml(existingExitInfo), common.ToYaml(exitInfo)))
		}

		ExitInfoList = append(ExitInfoList, exitInfo)
		ExitInfoMap[*exitInfo.Code] = exitInfo
	}
}

// AppendExitInfosFromFile appends the user Container ExitInfos defined in a
// YAML list, such as:
//   - code: 3
//     description: UserTransientError
//     type: TRANSIENT_NORMAL
func AppendExitInfosFromFile(filePath string) error {
	yamlBytes, err := ioutil.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("Failed to read user exit spec file: %v, %v", filePath, err)
	}

	exitInfos := []*ExitInfo{}
	common.FromYaml(string(yamlBytes), &exitInfos)
	for _, exitInfo := range exitInfos {
		if exitInfo.Code == nil {
			return fmt.Errorf("User exit spec file %v contains ExitInfo without code: %v",
				filePath, common.ToJson(exitInfo))
		}
		if *exitInfo.Code >= ExitCodeReservedLauncher.Min &&
			*exitInfo.Code <= ExitCodeReservedLauncher.Max {
			return fmt.Errorf("User exit spec file %v contains reserved ExitCode %v",
				filePath, *exitInfo.Code)
		}
	}
	AppendExitInfos(exitInfos)
	return nil
}

// LookupExitInfo never returns nil: an unrecognized ExitCode is of
// ExitTypeUnknown.
func LookupExitInfo(code ExitCode) *ExitInfo {
	if exitInfo, ok := ExitInfoMap[code]; ok {
		return exitInfo
	}
	return &ExitInfo{
		Code:        code.Ptr(),
		Description: "UnrecognizedExitCode",
		Type:        ExitTypeUnknown,
	}
}

// LookupContainerExit converts the raw Container ExitStatus reported by the
// container runtime to the launcher ExitInfo.
// Non-negative raw ExitStatus is the ExitCode of the user process itself.
func LookupContainerExit(rawExitStatus int32, rawDiagnostics string) *ExitInfo {
	diag := strings.ToLower(rawDiagnostics)
	switch rawExitStatus {
	case RawExitStatusInvalid:
		return LookupExitInfo(ExitCodeContainerInvalidExitStatus)
	case RawExitStatusAborted:
		if strings.Contains(diag, "expired") {
			return LookupExitInfo(ExitCodeContainerExpired)
		} else if strings.Contains(diag, "lost node") ||
			strings.Contains(diag, "node lost") {
			return LookupExitInfo(ExitCodeContainerNodeLost)
		} else if strings.Contains(diag, "restart") {
			return LookupExitInfo(ExitCodeContainerAbortedOnAMRestart)
		}
		return LookupExitInfo(ExitCodeContainerAborted)
	case RawExitStatusDisksFailed:
		return LookupExitInfo(ExitCodeContainerNodeDisksFailed)
	case RawExitStatusPreempted:
		return LookupExitInfo(ExitCodeContainerPreempted)
	case RawExitStatusKilledExceededVmem:
		return LookupExitInfo(ExitCodeContainerVirtualMemoryExceeded)
	case RawExitStatusKilledExceededPmem:
		return LookupExitInfo(ExitCodeContainerPhysicalMemoryExceeded)
	case RawExitStatusKilledByAppMaster:
		return LookupExitInfo(ExitCodeContainerKilledByAM)
	case RawExitStatusKilledByResourceManager:
		return LookupExitInfo(ExitCodeContainerKilledByRM)
	case RawExitStatusKilledAfterAppCompletion:
		return LookupExitInfo(ExitCodeContainerKilledOnAppCompletion)
	}

	if rawExitStatus < 0 {
		return &ExitInfo{
			Code:        ExitCode(rawExitStatus).Ptr(),
			Description: "UnrecognizedContainerExitStatus",
			Type:        ExitTypeUnknown,
		}
	}
	return LookupExitInfo(ExitCode(rawExitStatus))
}
