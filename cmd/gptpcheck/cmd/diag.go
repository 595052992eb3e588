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

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/gptp/ptp/gptp/engine"
	ptp "github.com/facebook/gptp/ptp/protocol"
	"github.com/facebook/gptp/servo"
)

// flags
var (
	diagOffsetWarnFlag time.Duration
	diagOffsetFailFlag time.Duration
	diagStaleFlag      time.Duration
)

type status int

// possible check results
const (
	OK status = iota
	WARN
	FAIL
)

// diagnoser is function that does checks on a snapshot
type diagnoser func(s *engine.Snapshot) (status, string)

var okString = color.GreenString("[ OK ]")
var warnString = color.YellowString("[WARN]")
var failString = color.RedString("[FAIL]")

var statusToColor = []string{okString, warnString, failString}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func checkGMPresent(s *engine.Snapshot) (status, string) {
	if s.IsGrandmaster {
		return OK, fmt.Sprintf("node is the grandmaster %s", color.GreenString("%s", s.ClockIdentity))
	}
	if s.GrandmasterIdentity == 0 {
		return FAIL, color.RedString("no grandmaster selected")
	}
	return OK, fmt.Sprintf("grandmaster %s is %d steps away via port %d",
		color.GreenString("%s", s.GrandmasterIdentity), s.StepsRemoved, s.SlavePort)
}

func checkOffset(s *engine.Snapshot) (status, string) {
	if s.IsGrandmaster {
		return OK, "master offset is not measured on the grandmaster"
	}
	offset := time.Duration(abs(s.MasterOffset))
	msg := "master offset is %s, we expect it to be within %s"
	switch {
	case offset > diagOffsetFailFlag:
		return FAIL, fmt.Sprintf(msg, color.RedString("%v", offset), color.BlueString("%v", diagOffsetWarnFlag))
	case offset > diagOffsetWarnFlag:
		return WARN, fmt.Sprintf(msg, color.YellowString("%v", offset), color.BlueString("%v", diagOffsetWarnFlag))
	}
	return OK, fmt.Sprintf(msg, color.GreenString("%v", offset), color.BlueString("%v", diagOffsetWarnFlag))
}

func checkServo(s *engine.Snapshot) (status, string) {
	if s.IsGrandmaster {
		return OK, "servo is idle on the grandmaster"
	}
	switch s.ServoState {
	case servo.StateLocked.String():
		return OK, fmt.Sprintf("servo is %s", color.GreenString("%s", s.ServoState))
	case servo.StateInit.String(), servo.StateJump.String():
		return WARN, fmt.Sprintf("servo is %s, clock is not disciplined yet", color.YellowString("%s", s.ServoState))
	}
	return FAIL, fmt.Sprintf("servo is %s", color.RedString("%s", s.ServoState))
}

func checkPorts(s *engine.Snapshot) (status, string) {
	if len(s.Ports) == 0 {
		return FAIL, color.RedString("no ports")
	}
	res := OK
	notCapable := 0
	for _, p := range s.Ports {
		if p.State == ptp.PortStateFaulty {
			return FAIL, fmt.Sprintf("port %d is %s", p.Number, color.RedString("%s", p.State))
		}
		if !p.AsCapable {
			notCapable++
			res = WARN
		}
	}
	if notCapable > 0 {
		return res, fmt.Sprintf("%s of %d ports are not asCapable", color.YellowString("%d", notCapable), len(s.Ports))
	}
	return res, fmt.Sprintf("all %s ports are asCapable", color.GreenString("%d", len(s.Ports)))
}

func checkFresh(s *engine.Snapshot) (status, string) {
	age := time.Since(s.Updated)
	if age > diagStaleFlag {
		return FAIL, fmt.Sprintf("engine state was updated %s ago", color.RedString("%v", age.Round(time.Millisecond)))
	}
	return OK, fmt.Sprintf("engine state was updated %s ago", color.GreenString("%v", age.Round(time.Millisecond)))
}

var diagnosers = []diagnoser{
	checkGMPresent,
	checkOffset,
	checkServo,
	checkPorts,
	checkFresh,
}

func runDiagnosers(s *engine.Snapshot) status {
	worst := OK
	for _, check := range diagnosers {
		st, msg := check(s)
		fmt.Printf("%s %s\n", statusToColor[st], msg)
		if st > worst {
			worst = st
		}
	}
	return worst
}

func init() {
	RootCmd.AddCommand(diagCmd)
	diagCmd.Flags().DurationVar(&diagOffsetWarnFlag, "offset-warn", time.Microsecond, "master offset above which a warning is reported")
	diagCmd.Flags().DurationVar(&diagOffsetFailFlag, "offset-fail", 100*time.Microsecond, "master offset above which the check fails")
	diagCmd.Flags().DurationVar(&diagStaleFlag, "stale", 10*time.Second, "engine state older than this is a failure")
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Run diagnostics against a running gPTP daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		s, err := fetchSnapshot(rootMonitoringFlag)
		if err != nil {
			log.Fatal(err)
		}
		if runDiagnosers(s) == FAIL {
			os.Exit(1)
		}
	},
}
