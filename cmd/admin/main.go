package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	passlog "terrainstream.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		}
	}
	logsCmd(os.Args[1:])
}

// logsCmd lists pass log files with their entry counts.
func logsCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listLogs(os.Stdout, filepath.Join(*dataDir, "passes")); err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
}

func listLogs(w io.Writer, dir string) error {
	files, err := passlog.ListPassLogs(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		n := 0
		if err := passlog.ReadPassLog(f, func(passlog.PassLogEntry) bool {
			n++
			return true
		}); err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", filepath.Base(f), err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", filepath.Base(f), n)
	}
	return nil
}
