// Package logging provides the logger factory used by all kmerind packages.
// Every package obtains a named logger via logger.GetLogger("<pkg>") from the
// dragonboat logger registry; this package installs a custom factory with a
// uniform "LEVEL | pkg | msg" format and wires the configured log level into
// all package loggers.
package logging
