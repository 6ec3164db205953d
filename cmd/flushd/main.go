package main

import (
	"github.com/moontrade/flushd/app"
	"github.com/moontrade/flushd/logger"
)

var (
	version = "0.0.0"
	gitsha  = ""
)

func main() {
	var conf app.Config
	conf.Name = "flushd"
	conf.Version = version
	conf.GitSHA = gitsha
	if err := app.Main(conf); err != nil {
		logger.Fatal(err, "exit")
	}
}
