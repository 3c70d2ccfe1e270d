package carfollow

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "carfollow")
