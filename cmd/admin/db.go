package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"terrainstream.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/passes.sqlite)")
	session := fs.String("session", "", "session_id filter")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "summary"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "passes.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	var err error
	switch q {
	case "summary":
		err = summaryQuery(os.Stdout, path, *session)
	case "sessions", "passes":
		var db *sql.DB
		db, err = sql.Open("sqlite", path)
		if err != nil {
			break
		}
		defer db.Close()
		if q == "sessions" {
			err = sessionsQuery(os.Stdout, db, *limit)
		} else {
			err = passesQuery(os.Stdout, db, *session, *limit)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want summary, sessions or passes)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func summaryQuery(w io.Writer, path, session string) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	sum, err := idx.Summary(context.Background(), session)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(sum)
}

func sessionsQuery(w io.Writer, db *sql.DB, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT id,client_name,render_distance,started_at,COALESCE(ended_at,'') FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	enc := json.NewEncoder(w)
	for rows.Next() {
		var r struct {
			ID             string `json:"id"`
			ClientName     string `json:"client_name"`
			RenderDistance int    `json:"render_distance"`
			StartedAt      string `json:"started_at"`
			EndedAt        string `json:"ended_at,omitempty"`
		}
		if err := rows.Scan(&r.ID, &r.ClientName, &r.RenderDistance, &r.StartedAt, &r.EndedAt); err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func passesQuery(w io.Writer, db *sql.DB, session string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT session_id,frame,cx,cz,candidates,culled,generated,evicted,loaded,elapsed_us FROM passes`
	args := []any{}
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY recorded_at DESC, frame DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	enc := json.NewEncoder(w)
	for rows.Next() {
		var r struct {
			SessionID  string `json:"session_id"`
			Frame      uint64 `json:"frame"`
			CX         int    `json:"cx"`
			CZ         int    `json:"cz"`
			Candidates int    `json:"candidates"`
			Culled     int    `json:"culled"`
			Generated  int    `json:"generated"`
			Evicted    int    `json:"evicted"`
			Loaded     int    `json:"loaded"`
			ElapsedUS  int64  `json:"elapsed_us"`
		}
		if err := rows.Scan(&r.SessionID, &r.Frame, &r.CX, &r.CZ, &r.Candidates, &r.Culled,
			&r.Generated, &r.Evicted, &r.Loaded, &r.ElapsedUS); err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
