// Package logging wires up a logrus logger the way the teacher's service
// does: parse a level string, fall back to info on a bad one, attach a
// fixed component field rather than leaving every call site to repeat it.
package logging

import "github.com/sirupsen/logrus"

// New returns a logrus.FieldLogger scoped to component, at the given level
// string. An unparseable level falls back to info instead of failing
// startup over a typo in a config file.
func New(component, level string) *logrus.Entry {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("component", component)
}
