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

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/ipc"
)

func init() {
	RootCmd.AddCommand(shmCmd)
}

func printRecord(r *ipc.Record) {
	fmt.Printf("pid:                     %d\n", r.PID)
	fmt.Printf("domain:                  %d\n", r.Domain)
	fmt.Printf("is grandmaster:          %v\n", r.IsGrandmaster)
	fmt.Printf("grandmaster:             %s\n", r.GrandmasterIdentity)
	fmt.Printf("master offset:           %.3fns\n", r.MasterOffset.Nanoseconds())
	fmt.Printf("master freq ratio:       %.12f\n", r.MasterFreqRatio)
	fmt.Printf("local/system offset:     %.3fns\n", r.LocalSystemOffset.Nanoseconds())
	fmt.Printf("local/system freq ratio: %.12f\n", r.LocalSystemFreqRatio)
	fmt.Printf("local time:              %d\n", r.LocalTime)
	fmt.Printf("sync count:              %d\n", r.SyncCount)
	fmt.Printf("pdelay count:            %d\n", r.PdelayCount)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"port", "state", "as capable"})
	for _, p := range r.Ports {
		table.Append([]string{
			fmt.Sprintf("%d", p.Number),
			p.State.String(),
			fmt.Sprintf("%v", p.AsCapable),
		})
	}
	table.Render()
}

func shmRun(path string) error {
	shm, err := ipc.OpenShm(path)
	if err != nil {
		return err
	}
	defer shm.Close()
	r, err := shm.Read()
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	printRecord(r)
	return nil
}

var shmCmd = &cobra.Command{
	Use:   "shm",
	Short: "Print time data published in shared memory",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := shmRun(rootShmFlag); err != nil {
			log.Fatal(err)
		}
	},
}
