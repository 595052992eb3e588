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
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/engine"
	"github.com/facebook/gptp/ptp/gptp/stats"
)

var statusJSONFlag bool

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusJSONFlag, "json", "j", false, "print raw snapshot as JSON")
}

func fetchSnapshot(url string) (*engine.Snapshot, error) {
	s := &engine.Snapshot{}
	if err := stats.FetchJSON(fmt.Sprintf("%s/snapshot", url), s); err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	return s, nil
}

func printSnapshot(s *engine.Snapshot) {
	fmt.Printf("clock identity:  %s\n", s.ClockIdentity)
	fmt.Printf("grandmaster:     %s (p1 %d, p2 %d, class %d, accuracy 0x%x, variance 0x%x)\n",
		s.GrandmasterIdentity, s.GrandmasterPriority1, s.GrandmasterPriority2,
		s.GrandmasterQuality.ClockClass, s.GrandmasterQuality.ClockAccuracy, s.GrandmasterQuality.OffsetScaledLogVariance)
	fmt.Printf("is grandmaster:  %v\n", s.IsGrandmaster)
	fmt.Printf("steps removed:   %d\n", s.StepsRemoved)
	fmt.Printf("slave port:      %d\n", s.SlavePort)
	fmt.Printf("servo:           %s, freq %.3f ppb\n", s.ServoState, s.FrequencyPPB)
	fmt.Printf("master offset:   %dns (mean %.1f, stddev %.1f)\n", s.MasterOffset, s.OffsetStats.Mean, s.OffsetStats.Stddev)
	fmt.Printf("path delay:      %.1fns (mean %.1f)\n", s.PathDelayStats.Last, s.PathDelayStats.Mean)
	fmt.Printf("updated:         %v ago\n", time.Since(s.Updated).Round(time.Millisecond))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"port", "identity", "state", "as capable", "link delay", "nrr", "sync", "pdelay"})
	for _, p := range s.Ports {
		table.Append([]string{
			fmt.Sprintf("%d", p.Number),
			p.Identity.String(),
			p.State.String(),
			fmt.Sprintf("%v", p.AsCapable),
			p.LinkDelay.String(),
			fmt.Sprintf("%.9f", p.NeighborRateRatio),
			fmt.Sprintf("%d", p.SyncCount),
			fmt.Sprintf("%d", p.PdelayCount),
		})
	}
	table.Render()
}

func statusRun(url string, asJSON bool) error {
	s, err := fetchSnapshot(url)
	if err != nil {
		return err
	}
	if asJSON {
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	printSnapshot(s)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print clock engine and port state",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := statusRun(rootMonitoringFlag, statusJSONFlag); err != nil {
			log.Fatal(err)
		}
	},
}
