package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	CycleRunning  = "running"
	CycleDone     = "done"
	CycleFailed   = "failed"
	TopicFailed   = "failed"
	TopicRendered = "rendered"
	TopicUploaded = "uploaded"
)

type Cycle struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	Status         string
	TrendsFetched  int
	TopicsSelected int
	EbooksWritten  int
	Error          string
}

type TopicRun struct {
	CycleID      string
	Rank         int
	Topic        string
	Score        int
	Result       string
	EbookPath    string
	DocumentPath string
	CoverPath    string
	Error        string
}

type Extraction struct {
	CycleID  string
	CallSite string
	Status   string
	RawBytes int
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id              TEXT PRIMARY KEY,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME,
		status          TEXT NOT NULL DEFAULT 'running',
		trends_fetched  INTEGER DEFAULT 0,
		topics_selected INTEGER DEFAULT 0,
		ebooks_written  INTEGER DEFAULT 0,
		error           TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);

	CREATE TABLE IF NOT EXISTS topic_runs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id      TEXT NOT NULL,
		rank          INTEGER NOT NULL,
		topic         TEXT NOT NULL,
		score         INTEGER NOT NULL,
		result        TEXT NOT NULL,
		ebook_path    TEXT DEFAULT '',
		document_path TEXT DEFAULT '',
		cover_path    TEXT DEFAULT '',
		error         TEXT DEFAULT '',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_topic_runs_cycle ON topic_runs(cycle_id);

	CREATE TABLE IF NOT EXISTS extractions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id    TEXT NOT NULL,
		call_site   TEXT NOT NULL,
		status      TEXT NOT NULL,
		raw_bytes   INTEGER DEFAULT 0,
		recorded_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_recorded_at ON extractions(recorded_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func InsertCycle(db *sql.DB, id string, startedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO cycles (id, started_at, status) VALUES (?, ?, ?)`,
		id, startedAt.UTC(), CycleRunning,
	)
	return err
}

// FinishCycle records the outcome. A non-empty Error marks the cycle failed.
func FinishCycle(db *sql.DB, c Cycle) error {
	status := CycleDone
	if c.Error != "" {
		status = CycleFailed
	}
	finished := time.Now().UTC()
	if c.FinishedAt.Valid {
		finished = c.FinishedAt.Time.UTC()
	}
	_, err := db.Exec(
		`UPDATE cycles
		 SET finished_at = ?, status = ?, trends_fetched = ?, topics_selected = ?, ebooks_written = ?, error = ?
		 WHERE id = ?`,
		finished, status, c.TrendsFetched, c.TopicsSelected, c.EbooksWritten, c.Error, c.ID,
	)
	return err
}

func InsertTopicRun(db *sql.DB, r TopicRun) error {
	_, err := db.Exec(
		`INSERT INTO topic_runs (cycle_id, rank, topic, score, result, ebook_path, document_path, cover_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.Rank, r.Topic, r.Score, r.Result, r.EbookPath, r.DocumentPath, r.CoverPath, r.Error,
	)
	return err
}

func RecordExtraction(db *sql.DB, e Extraction, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO extractions (cycle_id, call_site, status, raw_bytes, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		e.CycleID, e.CallSite, e.Status, e.RawBytes, at.UTC(),
	)
	return err
}

// ExtractionStatusCounts returns call_site -> status -> count since the given
// time.
func ExtractionStatusCounts(db *sql.DB, since time.Time) (map[string]map[string]int, error) {
	rows, err := db.Query(
		`SELECT call_site, status, COUNT(*)
		 FROM extractions
		 WHERE recorded_at >= ?
		 GROUP BY call_site, status`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var site, status string
		var n int
		if err := rows.Scan(&site, &status, &n); err != nil {
			return nil, err
		}
		if counts[site] == nil {
			counts[site] = make(map[string]int)
		}
		counts[site][status] = n
	}
	return counts, rows.Err()
}

func RecentCycles(db *sql.DB, limit int) ([]Cycle, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := db.Query(
		`SELECT id, started_at, finished_at, status, trends_fetched, topics_selected, ebooks_written, COALESCE(error, '')
		 FROM cycles
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.FinishedAt, &c.Status,
			&c.TrendsFetched, &c.TopicsSelected, &c.EbooksWritten, &c.Error); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func GetTopicRuns(db *sql.DB, cycleID string) ([]TopicRun, error) {
	rows, err := db.Query(
		`SELECT cycle_id, rank, topic, score, result, ebook_path, document_path, cover_path, error
		 FROM topic_runs WHERE cycle_id = ? ORDER BY rank`,
		cycleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TopicRun
	for rows.Next() {
		var r TopicRun
		if err := rows.Scan(&r.CycleID, &r.Rank, &r.Topic, &r.Score, &r.Result,
			&r.EbookPath, &r.DocumentPath, &r.CoverPath, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
