package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the command line and logs whatever error ends it.
func execute() error {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("cdcflow 执行失败")
		return err
	}
	return nil
}
