// Package logging provides structured logging for ralphloop.
//
// It wraps log/slog with a JSON handler and carries persistent attributes
// (session name, iteration) into every entry so a session's log file can be
// filtered after the fact. Session logs are written through a
// [RotatingWriter] that rolls the file over once it reaches a size limit.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{Path: "/tmp/docs.log", Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSession("docs").WithIteration(3).Info("backend finished", "exit_code", 0)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"backend finished","session":"docs","iteration":3,"exit_code":0}
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// created with With* share the parent's writer.
package logging
