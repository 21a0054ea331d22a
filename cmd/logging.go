package cmd

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opencourse/ms-go-course-payments/config"
)

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Log.Level)))
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	return nil
}
