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
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var queryTimeoutFlag time.Duration

func init() {
	RootCmd.AddCommand(queryCmd)
	queryCmd.Flags().DurationVarP(&queryTimeoutFlag, "timeout", "t", time.Second, "how long to wait for the reply")
}

func queryRun(timeout time.Duration) error {
	c, err := dialControl()
	if err != nil {
		return err
	}
	defer c.Close()
	m, err := c.Query(timeout)
	if err != nil {
		return err
	}
	fmt.Printf("master offset:           %dns\n", m.MasterOffset)
	fmt.Printf("master freq ratio:       %.12f\n", m.MasterFreqRatio)
	fmt.Printf("local/system offset:     %dns\n", m.LocalSystemOffset)
	fmt.Printf("local/system freq ratio: %.12f\n", m.LocalSystemFreqRatio)
	fmt.Printf("local time:              %d\n", m.LocalTime)
	return nil
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query current offsets over the control socket",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := queryRun(queryTimeoutFlag); err != nil {
			log.Fatal(err)
		}
	},
}
