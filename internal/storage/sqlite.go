package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding candidates, interviews, the polling
// tracking record and the audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "intake.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing
	// immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in
// ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// --- Candidates ---

const candidateColumns = `id, name, email, phone, stage, score, synthetic_email,
	conversation_id, agent_id, transcript_file_id, audio_file_id,
	structured_json, flags_json, ingest_count, created_at, updated_at`

// UpsertCandidate writes a candidate keyed on email in a single statement,
// so two concurrent writers processing the same never-seen conversation
// cannot create two records. On conflict, non-blank identity fields win over
// stored values while blank ones are kept, and the interview-specific
// columns are always overwritten with the latest conversation's data. The
// pipeline stage of an existing record is never touched.
// Returns true when a new record was created.
func (s *Store) UpsertCandidate(c *Candidate) (bool, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Stage == "" {
		c.Stage = StageInterviewed
	}
	if c.StructuredJSON == "" {
		c.StructuredJSON = "{}"
	}
	if c.FlagsJSON == "" {
		c.FlagsJSON = "{}"
	}

	row := s.db.QueryRow(`
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE candidates.name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE candidates.phone END,
			score = excluded.score,
			synthetic_email = excluded.synthetic_email,
			conversation_id = excluded.conversation_id,
			agent_id = excluded.agent_id,
			transcript_file_id = CASE WHEN excluded.transcript_file_id != '' THEN excluded.transcript_file_id ELSE candidates.transcript_file_id END,
			audio_file_id = CASE WHEN excluded.audio_file_id != '' THEN excluded.audio_file_id ELSE candidates.audio_file_id END,
			structured_json = excluded.structured_json,
			flags_json = excluded.flags_json,
			ingest_count = candidates.ingest_count + 1,
			updated_at = excluded.updated_at
		RETURNING id, ingest_count`,
		c.ID, c.Name, c.Email, c.Phone, c.Stage, c.Score, c.SyntheticEmail,
		c.ConversationID, c.AgentID, c.TranscriptFileID, c.AudioFileID,
		c.StructuredJSON, c.FlagsJSON, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)

	var ingestCount int
	if err := row.Scan(&c.ID, &ingestCount); err != nil {
		return false, fmt.Errorf("upserting candidate: %w", err)
	}
	c.IngestCount = ingestCount

	return ingestCount == 1, nil
}

func (s *Store) GetCandidateByEmail(email string) (*Candidate, error) {
	row := s.db.QueryRow(`SELECT `+candidateColumns+` FROM candidates WHERE email = ?`, email)
	return scanCandidateFrom(row)
}

func (s *Store) GetCandidateByConversationID(conversationID string) (*Candidate, error) {
	row := s.db.QueryRow(`
		SELECT `+candidateColumns+` FROM candidates
		WHERE conversation_id = ? ORDER BY created_at ASC LIMIT 1`, conversationID)
	return scanCandidateFrom(row)
}

// UpdateCandidateStage moves a candidate to another pipeline stage.
func (s *Store) UpdateCandidateStage(id, stage string) error {
	res, err := s.db.Exec(`UPDATE candidates SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCandidatesWithConversation returns every candidate carrying a
// conversation id, for reconciliation against the external set.
func (s *Store) ListCandidatesWithConversation() ([]*Candidate, error) {
	rows, err := s.db.Query(`
		SELECT ` + candidateColumns + ` FROM candidates
		WHERE conversation_id != '' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Candidate
	for rows.Next() {
		c, err := scanCandidateFrom(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidateFrom(scanner rowScanner) (*Candidate, error) {
	var c Candidate
	var createdAt, updatedAt string
	err := scanner.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Stage, &c.Score, &c.SyntheticEmail,
		&c.ConversationID, &c.AgentID, &c.TranscriptFileID, &c.AudioFileID,
		&c.StructuredJSON, &c.FlagsJSON, &c.IngestCount, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// --- Interviews ---

func (s *Store) CreateInterview(i *Interview) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.ScorecardJSON == "" {
		i.ScorecardJSON = "{}"
	}
	if i.StrengthsJSON == "" {
		i.StrengthsJSON = "[]"
	}
	if i.ConcernsJSON == "" {
		i.ConcernsJSON = "[]"
	}

	_, err := s.db.Exec(`
		INSERT INTO interviews (id, candidate_id, conversation_id, agent_id, score,
			scorecard_json, strengths_json, concerns_json, duration_secs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CandidateID, i.ConversationID, i.AgentID, i.Score,
		i.ScorecardJSON, i.StrengthsJSON, i.ConcernsJSON, i.DurationSecs, formatTime(i.CreatedAt),
	)
	return err
}

// LatestInterviewByConversation returns the most recent interview row for a
// conversation, for field-level drift checks.
func (s *Store) LatestInterviewByConversation(conversationID string) (*Interview, error) {
	var i Interview
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, candidate_id, conversation_id, agent_id, score,
			scorecard_json, strengths_json, concerns_json, duration_secs, created_at
		FROM interviews WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID,
	).Scan(&i.ID, &i.CandidateID, &i.ConversationID, &i.AgentID, &i.Score,
		&i.ScorecardJSON, &i.StrengthsJSON, &i.ConcernsJSON, &i.DurationSecs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &i, nil
}

// CountInterviewsByConversation reports how many interview rows a
// conversation has produced.
func (s *Store) CountInterviewsByConversation(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interviews WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// --- Tracking ---

const trackingColumns = `agent_id, is_active, last_processed_at, last_conversation_id,
	total_processed, total_failed, last_error, last_error_at, created_at, updated_at`

func (s *Store) GetTracking(agentID string) (*Tracking, error) {
	var t Tracking
	var lastProcessedAt, lastErrorAt, createdAt, updatedAt string
	err := s.db.QueryRow(`SELECT `+trackingColumns+` FROM elevenlabs_tracking WHERE agent_id = ?`, agentID).Scan(
		&t.AgentID, &t.IsActive, &lastProcessedAt, &t.LastConversationID,
		&t.TotalProcessed, &t.TotalFailed, &t.LastError, &lastErrorAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.LastProcessedAt, err = parseTime(lastProcessedAt); err != nil {
		return nil, fmt.Errorf("parsing last_processed_at: %w", err)
	}
	if t.LastErrorAt, err = parseTime(lastErrorAt); err != nil {
		return nil, fmt.Errorf("parsing last_error_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// UpsertTracking writes the full tracking record for an agent.
func (s *Store) UpsertTracking(t *Tracking) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	lastErrorAt := ""
	if !t.LastErrorAt.IsZero() {
		lastErrorAt = formatTime(t.LastErrorAt)
	}

	_, err := s.db.Exec(`
		INSERT INTO elevenlabs_tracking (`+trackingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			is_active = excluded.is_active,
			last_processed_at = excluded.last_processed_at,
			last_conversation_id = excluded.last_conversation_id,
			total_processed = excluded.total_processed,
			total_failed = excluded.total_failed,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = excluded.updated_at`,
		t.AgentID, t.IsActive, formatTime(t.LastProcessedAt), t.LastConversationID,
		t.TotalProcessed, t.TotalFailed, t.LastError, lastErrorAt,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	return err
}

// UpdateTracking applies a partial mutation to the tracking record in one
// statement.
func (s *Store) UpdateTracking(agentID string, u TrackingUpdate) error {
	set := []string{"updated_at = ?"}
	args := []interface{}{formatTime(time.Now())}

	if u.IsActive != nil {
		set = append(set, "is_active = ?")
		args = append(args, *u.IsActive)
	}
	if u.LastProcessedAt != nil {
		set = append(set, "last_processed_at = ?")
		args = append(args, formatTime(*u.LastProcessedAt))
	}
	if u.LastConversationID != nil {
		set = append(set, "last_conversation_id = ?")
		args = append(args, *u.LastConversationID)
	}
	if u.AddProcessed != 0 {
		set = append(set, "total_processed = total_processed + ?")
		args = append(args, u.AddProcessed)
	}
	if u.AddFailed != 0 {
		set = append(set, "total_failed = total_failed + ?")
		args = append(args, u.AddFailed)
	}
	if u.ClearError {
		set = append(set, "last_error = ''", "last_error_at = ''")
	} else {
		if u.LastError != nil {
			set = append(set, "last_error = ?")
			args = append(args, *u.LastError)
		}
		if u.LastErrorAt != nil {
			set = append(set, "last_error_at = ?")
			args = append(args, formatTime(*u.LastErrorAt))
		}
	}

	args = append(args, agentID)
	res, err := s.db.Exec(`UPDATE elevenlabs_tracking SET `+strings.Join(set, ", ")+` WHERE agent_id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit log ---

func (s *Store) CreateAuditLog(entry *AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_log (id, conversation_id, agent_id, action, success, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.AgentID, entry.Action, entry.Success,
		entry.Detail, formatTime(entry.CreatedAt),
	)
	return err
}

// ListAuditLogs returns the most recent audit entries, newest first.
func (s *Store) ListAuditLogs(limit int) ([]*AuditLog, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, agent_id, action, success, detail, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*AuditLog
	for rows.Next() {
		var entry AuditLog
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.ConversationID, &entry.AgentID,
			&entry.Action, &entry.Success, &entry.Detail, &createdAt); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, &entry)
	}
	return results, rows.Err()
}
