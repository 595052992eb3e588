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
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/stats"
)

var countersPortFlag uint16

func init() {
	RootCmd.AddCommand(countersCmd)
	countersCmd.Flags().Uint16VarP(&countersPortFlag, "port", "p", 0, "print counters of this port only")
}

func countersRun(url string, port uint16) error {
	counters, err := stats.FetchCounters(url)
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}
	var output any = counters
	if port != 0 {
		ps, ok := counters.PortStats()[port]
		if !ok {
			return fmt.Errorf("no counters for port %d", port)
		}
		output = ps
	}
	toPrint, err := json.Marshal(output)
	if err != nil {
		return err
	}
	fmt.Println(string(toPrint))
	return nil
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print daemon counters in JSON format",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := countersRun(rootMonitoringFlag, countersPortFlag); err != nil {
			log.Fatal(err)
		}
	},
}
