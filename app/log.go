package app

import (
	"fmt"
	"os"

	"github.com/moontrade/flushd/logger"
)

func logInit(conf Config) {
	if err := logger.SetLevel(conf.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -l: %s\n", conf.LogLevel)
		os.Exit(1)
	}
	logger.SetConsoleWriterTo(conf.LogOutput, os.Getenv("NO_COLOR") != "")
	logger.Notice("version", versline(conf), "starting")
}
