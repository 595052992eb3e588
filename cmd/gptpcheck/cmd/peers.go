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
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/peer"
	"github.com/facebook/gptp/ptp/gptp/stats"
)

func init() {
	RootCmd.AddCommand(peersCmd)
	peersCmd.AddCommand(peersAddCmd)
	peersCmd.AddCommand(peersRemoveCmd)
}

func peersRun(url string) error {
	var peers []peer.AddrWithState
	if err := stats.FetchJSON(fmt.Sprintf("%s/peers", url), &peers); err != nil {
		return fmt.Errorf("fetching peers: %w", err)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"address", "kind", "port identity", "as capable", "link delay", "nrr", "last seen"})
	for _, p := range peers {
		lastSeen := "never"
		if !p.State.LastSeen.IsZero() {
			lastSeen = fmt.Sprintf("%v ago", time.Since(p.State.LastSeen).Round(time.Millisecond))
		}
		table.Append([]string{
			p.Addr.String(),
			p.Addr.Kind().String(),
			p.State.PortIdentity.String(),
			fmt.Sprintf("%v", p.State.AsCapable),
			p.State.LinkDelay.String(),
			fmt.Sprintf("%.9f", p.State.NeighborRateRatio),
			lastSeen,
		})
	}
	table.Render()
	return nil
}

func peersCtrlRun(add bool, s string) error {
	a, err := peer.ParseAddr(s)
	if err != nil {
		return err
	}
	c, err := dialControl()
	if err != nil {
		return err
	}
	defer c.Close()
	if add {
		return c.AddPeer(a)
	}
	return c.RemovePeer(a)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers known to the daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := peersRun(rootMonitoringFlag); err != nil {
			log.Fatal(err)
		}
	},
}

var peersAddCmd = &cobra.Command{
	Use:   "add <mac|ip:port>",
	Short: "Ask the daemon to add a peer",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := peersCtrlRun(true, args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

var peersRemoveCmd = &cobra.Command{
	Use:   "remove <mac|ip:port>",
	Short: "Ask the daemon to remove a peer",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := peersCtrlRun(false, args[0]); err != nil {
			log.Fatal(err)
		}
	},
}
