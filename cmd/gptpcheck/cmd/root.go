/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/ipc"
)

// RootCmd is a main entry point. It's exported so gptpcheck could be easily extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "gptpcheck",
	Short: "Inspect and control a running gPTP daemon",
}

// flags
var (
	rootVerboseFlag    bool
	rootMonitoringFlag string
	rootShmFlag        string
	rootSocketFlag     string
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootMonitoringFlag, "monitoring", "m", "http://localhost:4270", "monitoring http endpoint of the daemon")
	RootCmd.PersistentFlags().StringVarP(&rootShmFlag, "shm", "s", ipc.DefaultShmPath, "path of the shared memory segment")
	RootCmd.PersistentFlags().StringVarP(&rootSocketFlag, "socket", "S", ipc.DefaultControlSocket, "path of the daemon control socket")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// dialControl connects to the daemon control socket, replies come to a per-process socket
func dialControl() (*ipc.Client, error) {
	local := filepath.Join(os.TempDir(), fmt.Sprintf("gptpcheck.%d.sock", os.Getpid()))
	return ipc.Dial(rootSocketFlag, local)
}

// Execute is the main entry point for CLI interface
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
