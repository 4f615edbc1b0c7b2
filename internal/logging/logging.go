package logging

import (
	"io"
	"log"
	"os"
)

// Setup directs the standard logger to stderr and, when path is not
// empty, to a log file as well. A file that cannot be opened only
// costs file logging, never the process.
func Setup(path string) {
	log.SetFlags(log.LstdFlags)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Warning: cannot open log file %s: %v", path, err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}
