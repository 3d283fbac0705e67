// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// trackerctl talks to a relay over the LAN protocol, for bench testing
// without a phone.
//
//	trackerctl [-relay host:port] getall [-wait 2s]
//	trackerctl [-relay host:port] posupdate -callsign ABCD -lat 37.7771 -long -122.419 [-accurate]
//	trackerctl [-relay host:port] listen [-wait 1m]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/relabs-tech/lora_tracker/internal/app"
	"github.com/relabs-tech/lora_tracker/internal/lan"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-relay host:port] getall|posupdate|listen [flags]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	relayAddr := flag.String("relay", fmt.Sprintf("127.0.0.1:%d", lan.DefaultPort), "relay LAN address")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	client, err := app.DialLAN(*relayAddr)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer client.Close()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "getall":
		fs := flag.NewFlagSet("getall", flag.ExitOnError)
		wait := fs.Duration("wait", 2*time.Second, "stop after this long without answers")
		fs.Parse(args)

		positions, err := client.GetAll(*wait)
		if err != nil {
			log.Fatalf("getall: %v", err)
		}
		for _, p := range positions {
			app.PrintPosition(os.Stdout, p)
		}
		log.Printf("%d positions", len(positions))

	case "posupdate":
		fs := flag.NewFlagSet("posupdate", flag.ExitOnError)
		callsign := fs.String("callsign", "", "callsign, up to 4 characters")
		lat := fs.Float64("lat", 0, "latitude in degrees")
		long := fs.Float64("long", 0, "longitude in degrees")
		accurate := fs.Bool("accurate", false, "mark the fix as accurate")
		fs.Parse(args)
		if *callsign == "" {
			log.Fatal("posupdate: -callsign is required")
		}

		rec, err := app.RecordFromDegrees(*callsign, *lat, *long, *accurate)
		if err != nil {
			log.Fatalf("posupdate: %v", err)
		}
		if err := client.PosUpdate(rec); err != nil {
			log.Fatalf("posupdate: %v", err)
		}
		log.Printf("sent %+v to %s", rec, *relayAddr)

	case "listen":
		fs := flag.NewFlagSet("listen", flag.ExitOnError)
		wait := fs.Duration("wait", time.Minute, "stop after this long without updates")
		fs.Parse(args)

		// getall registers us as a client; broadcasts follow.
		if err := client.SendGetAll(); err != nil {
			log.Fatalf("listen: %v", err)
		}
		if _, err := client.Listen(*wait, func(p lan.Position) { app.PrintPosition(os.Stdout, p) }); err != nil {
			log.Fatalf("listen: %v", err)
		}

	default:
		usage()
	}
}
