package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/uktrade/ip-filter/cmd/ipfilter/app"
	"github.com/uktrade/ip-filter/cmd/ipfilter/build"
	"github.com/uktrade/ip-filter/pkg/util/log"
)

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision
	prometheus.MustRegister(version.NewCollector("ipfilter"))
}

func main() {
	printVersion := flag.Bool("version", false, "Print this build's version information")
	flag.Parse()

	if *printVersion {
		fmt.Println(build.Info())
		os.Exit(0)
	}

	cfg, err := app.LoadConfig(os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.InitLogger(cfg.LogLevel)
	level.Info(log.Logger).Log("msg", "starting ipfilter", "version", version.Info())
	level.Debug(log.Logger).Log("msg", "effective configuration", "config", spew.Sdump(cfg.Dump()))

	a := app.New(cfg)
	if err := a.Run(); err != nil {
		level.Error(log.Logger).Log("msg", "ipfilter exited with error", "err", err)
		os.Exit(1)
	}
}
