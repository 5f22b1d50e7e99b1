package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type snapshotRow struct {
	Turn     uint64 `json:"turn"`
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Claimed  int    `json:"claimed"`
	Goop     []int  `json:"goop"`
}

type turnRow struct {
	Turn     uint64 `json:"turn"`
	Checksum string `json:"checksum"`
	Joins    int    `json:"joins"`
	Leaves   int    `json:"leaves"`
	Actions  int    `json:"actions"`
}

type actionRow struct {
	Turn   uint64 `json:"turn"`
	Seq    int    `json:"seq"`
	Player int    `json:"player"`
	Kind   string `json:"kind"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

type playerRow struct {
	Player     int     `json:"player"`
	Name       string  `json:"name"`
	JoinedTurn uint64  `json:"joined_turn"`
	LeftTurn   *uint64 `json:"left_turn,omitempty"`
	Actions    int     `json:"actions"`
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	from := fs.Uint64("from", 0, "first turn (turns, actions)")
	player := fs.Int("player", -1, "player filter (actions)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "games", *gameID, "index", "game.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	var rows any
	switch q {
	case "snapshots":
		rows, err = querySnapshots(db, *limit)
	case "turns":
		rows, err = queryTurns(db, *from, *limit)
	case "actions":
		rows, err = queryActions(db, *from, *player, *limit)
	case "players":
		rows, err = queryPlayers(db)
	case "config":
		rows, err = queryConfig(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-game GAME|-db PATH] [-from T] [-player P] [-limit N] snapshots|turns|actions|players|config")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printRows(rows)
}

func querySnapshots(db *sql.DB, limit int) ([]snapshotRow, error) {
	rows, err := db.Query(`SELECT turn,path,checksum,claimed,goop_json FROM snapshots ORDER BY turn DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []snapshotRow
	for rows.Next() {
		var r snapshotRow
		var goop string
		if err := rows.Scan(&r.Turn, &r.Path, &r.Checksum, &r.Claimed, &goop); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(goop), &r.Goop); err != nil {
			return nil, fmt.Errorf("snapshot turn %d: goop_json: %w", r.Turn, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryTurns(db *sql.DB, from uint64, limit int) ([]turnRow, error) {
	rows, err := db.Query(`SELECT turn,checksum,joins,leaves,actions FROM turns WHERE turn>=? ORDER BY turn LIMIT ?`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []turnRow
	for rows.Next() {
		var r turnRow
		if err := rows.Scan(&r.Turn, &r.Checksum, &r.Joins, &r.Leaves, &r.Actions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryActions(db *sql.DB, from uint64, player, limit int) ([]actionRow, error) {
	q := `SELECT turn,seq,player,kind,from_node,to_node FROM actions WHERE turn>=? ORDER BY turn,seq LIMIT ?`
	args := []any{from, limit}
	if player >= 0 {
		q = `SELECT turn,seq,player,kind,from_node,to_node FROM actions WHERE turn>=? AND player=? ORDER BY turn,seq LIMIT ?`
		args = []any{from, player, limit}
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []actionRow
	for rows.Next() {
		var r actionRow
		if err := rows.Scan(&r.Turn, &r.Seq, &r.Player, &r.Kind, &r.From, &r.To); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryPlayers joins the join and leave records with per-player action
// counts. A server restart hands seats out again, so a player id can appear
// more than once.
func queryPlayers(db *sql.DB) ([]playerRow, error) {
	rows, err := db.Query(`
SELECT j.player, j.name, j.turn,
	(SELECT MIN(l.turn) FROM leaves l WHERE l.player=j.player AND l.turn>=j.turn),
	(SELECT COUNT(*) FROM actions a WHERE a.player=j.player AND a.turn>=j.turn)
FROM joins j ORDER BY j.turn, j.player`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []playerRow
	for rows.Next() {
		var r playerRow
		var left sql.NullInt64
		if err := rows.Scan(&r.Player, &r.Name, &r.JoinedTurn, &left, &r.Actions); err != nil {
			return nil, err
		}
		if left.Valid {
			t := uint64(left.Int64)
			r.LeftTurn = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryConfig(db *sql.DB) (map[string]any, error) {
	var digest, raw, updated string
	err := db.QueryRow(`SELECT c.digest,c.json,c.updated_at FROM config c JOIN meta m ON m.key='config_digest' AND m.value=c.digest`).Scan(&digest, &raw, &updated)
	if err != nil {
		return nil, err
	}
	var cfg any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}
	return map[string]any{"digest": digest, "updated_at": updated, "config": cfg}, nil
}

func printRows(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	switch rows := v.(type) {
	case []snapshotRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case []turnRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case []actionRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case []playerRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	default:
		_ = enc.Encode(v)
	}
}
