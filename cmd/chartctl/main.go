// Command chartctl is the operator tool for ChartFeed datasets.
//
//	chartctl gen    -out data/demo.json -seconds 86400
//	chartctl import -config config/config.yaml -target sqlite -symbol SOL -file data/demo.json
//	chartctl scroll -url http://localhost:8080 -series demo -tf 1s -steps 5
package main

import (
	"fmt"
	"os"

	applogger "ChartFeed/pkg/logger"
)

type command struct {
	name  string
	usage string
	run   func(args []string, l *applogger.Logger) error
}

var commands = []command{
	{"gen", "write a synthetic dataset file", runGen},
	{"import", "load a dataset file into sqlite or clickhouse", runImport},
	{"scroll", "simulate a chart scrolling left against a running server", runScroll},
}

func main() {
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(os.Args[2:], l); err != nil {
			l.Error("chartctl."+c.name+" failed", applogger.Error(err))
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: chartctl <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.usage)
	}
}
