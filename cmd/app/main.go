// entry point to app :)
package main

import (
	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/appServer"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(new(logrus.JSONFormatter))

	viperInstance, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Cannot load config. Error: {%s}", err.Error())
	}

	cfg, err := config.ParseConfig(viperInstance)
	if err != nil {
		logrus.Fatalf("Cannot parse config. Error: {%s}", err.Error())
	}

	if err := appServer.NewServer(cfg); err != nil {
		logrus.Fatalf("App stopped with error: %s", err.Error())
	}
}
