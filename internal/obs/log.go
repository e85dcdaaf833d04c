package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	logInit sync.Once
	stdout  *log.Logger
)

// Logger returns the process-wide line logger. Output goes to stdout with no
// prefix so every line is a bare JSON document.
func Logger() *log.Logger {
	logInit.Do(func() {
		stdout = log.New(os.Stdout, "", 0)
	})
	return stdout
}

// LogRequest writes one JSON log line built from the given fields. A marshal
// failure still produces a line, so the request is never silently dropped.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"unloggable request entry"}`)
		return
	}
	Logger().Println(string(line))
}
