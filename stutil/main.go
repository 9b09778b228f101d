// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbnote/gostutil"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

const stutilVersion = "1.0.0"

var (
	log          *logrus.Logger
	currentProbe gostutil.Probe
)

func cleanupProbe() {
	if currentProbe != nil {
		// switch the target back to free running before letting go
		currentProbe.Run(gostutil.RunNormal)
		currentProbe.ExitDebugMode()
		currentProbe.Close()
		currentProbe = nil
	}

	gostutil.CloseUSB()
}

func setUpSignalHandler() {
	signals := make(chan os.Signal, 1)

	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV)

	go func() {
		sig := <-signals
		log.Infof("Received signal %v. Exiting...", sig)

		cleanupProbe()
		os.Exit(1)
	}()
}

func main() {
	flagPort := flag.Int("listen_port", gostutil.DefaultListenPort, "gdb server listen port")
	flagMulti := flag.Bool("multi", false, "extended mode, keep listening after gdb disconnects")
	flagNoReset := flag.Bool("no-reset", false, "do not reset the board on connection")
	flagHotPlug := flag.Bool("hot-plug", false, "alias for -no-reset")
	flagUnderReset := flag.Bool("connect-under-reset", false, "connect to the board before executing any instructions")
	flagFreq := flag.Int("freq", 1800, "SWD interface frequency in kHz")
	flagSemihosting := flag.Bool("semihosting", false, "enable semihosting support")
	flagSerial := flag.String("serial", "", "use the probe with this serial number")
	flagVerbose := flag.Int("verbose", 0, "verbosity level (0...99)")
	flagVersion := flag.Bool("version", false, "print the version")

	flag.Parse()

	if *flagVersion {
		fmt.Printf("v%s\n", stutilVersion)
		os.Exit(0)
	}

	log = logrus.New()
	log.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp: true,
	})

	switch {
	case *flagVerbose == 0:
		log.SetLevel(logrus.InfoLevel)
	case *flagVerbose < 50:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.TraceLevel)
	}

	gostutil.SetLogger(log)

	log.Infof("stutil %s", stutilVersion)

	connectMode := gostutil.ConnectNormal

	if *flagNoReset || *flagHotPlug {
		connectMode = gostutil.ConnectHotPlug
	}

	if *flagUnderReset {
		connectMode = gostutil.ConnectUnderReset
	}

	if err := gostutil.InitializeUSB(); err != nil {
		log.Error(err)
		os.Exit(1)
	}

	openProbe := func() (gostutil.Probe, error) {
		config := gostutil.NewStLinkConfig(gostutil.AllSupportedVIds, gostutil.AllSupportedPIds,
			gostutil.StLinkModeDebugSwd, *flagSerial, uint32(*flagFreq), connectMode)

		return gostutil.NewStLink(config)
	}

	probe, err := openProbe()
	if err != nil {
		log.Error("could not open ST-Link: ", err)
		gostutil.CloseUSB()
		os.Exit(1)
	}

	currentProbe = probe

	setUpSignalHandler()

	cfg := &gostutil.ServerConfig{
		ListenPort:  *flagPort,
		Persistent:  *flagMulti,
		ConnectMode: connectMode,
		Semihosting: *flagSemihosting,
	}

	server := gostutil.NewServer(probe, cfg, openProbe)

	for {
		err := server.Serve()

		// a kill request may have swapped the probe underneath us
		currentProbe = server.Probe()

		if err == gostutil.ErrProbeLost {
			cleanupProbe()
			os.Exit(1)
		}

		if err != nil {
			// don't go berserk if serve keeps failing
			time.Sleep(time.Millisecond)
		}

		// let the target continue while nobody is attached
		currentProbe.Run(gostutil.RunNormal)

		if !cfg.Persistent {
			break
		}
	}

	cleanupProbe()
}
