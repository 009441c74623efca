package scheduler

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/repx-run/repx/internal/model"

	_ "modernc.org/sqlite"
)

const createSlurmJobsTable = `
CREATE TABLE IF NOT EXISTS slurm_jobs (
    job_id    TEXT NOT NULL,
    target    TEXT NOT NULL,
    slurm_id  INTEGER NOT NULL,
    PRIMARY KEY (job_id, target)
)`

// SlurmStateDB persists the JobId -> (target, slurm job id) map across
// engine invocations, replacing the original's flat slurm_map.json with
// the teacher's storage engine so concurrent engine processes sharing a
// target get atomic upsert/delete for free.
type SlurmStateDB struct {
	db *sql.DB
}

// OpenSlurmStateDB opens (and migrates) the sqlite database at dbPath.
func OpenSlurmStateDB(dbPath string) (*SlurmStateDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open slurm state db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(createSlurmJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create slurm_jobs table: %w", err)
	}
	return &SlurmStateDB{db: db}, nil
}

func (s *SlurmStateDB) Close() error {
	return s.db.Close()
}

// Upsert records that jobID was submitted to target as slurmID.
func (s *SlurmStateDB) Upsert(target string, jobID model.JobId, slurmID int) error {
	_, err := s.db.Exec(
		`INSERT INTO slurm_jobs (job_id, target, slurm_id) VALUES (?, ?, ?)
		 ON CONFLICT(job_id, target) DO UPDATE SET slurm_id = excluded.slurm_id`,
		string(jobID), target, slurmID,
	)
	if err != nil {
		return fmt.Errorf("upsert slurm job: %w", err)
	}
	return nil
}

// ErrNotFound is returned when no slurm id is recorded for a job.
var ErrNotFound = errors.New("no slurm job recorded")

// Get returns the slurm id recorded for jobID on target.
func (s *SlurmStateDB) Get(target string, jobID model.JobId) (int, error) {
	var slurmID int
	err := s.db.QueryRow(
		`SELECT slurm_id FROM slurm_jobs WHERE job_id = ? AND target = ?`,
		string(jobID), target,
	).Scan(&slurmID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get slurm job: %w", err)
	}
	return slurmID, nil
}

// Delete removes the record for jobID on target (called once its
// terminal status has been observed).
func (s *SlurmStateDB) Delete(target string, jobID model.JobId) error {
	_, err := s.db.Exec(`DELETE FROM slurm_jobs WHERE job_id = ? AND target = ?`, string(jobID), target)
	if err != nil {
		return fmt.Errorf("delete slurm job: %w", err)
	}
	return nil
}

// All returns every (jobID -> slurmID) pair recorded for target, used to
// build squeue's expected-job set.
func (s *SlurmStateDB) All(target string) (map[model.JobId]int, error) {
	rows, err := s.db.Query(`SELECT job_id, slurm_id FROM slurm_jobs WHERE target = ?`, target)
	if err != nil {
		return nil, fmt.Errorf("list slurm jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.JobId]int)
	for rows.Next() {
		var jobID string
		var slurmID int
		if err := rows.Scan(&jobID, &slurmID); err != nil {
			return nil, fmt.Errorf("scan slurm job: %w", err)
		}
		out[model.JobId(jobID)] = slurmID
	}
	return out, rows.Err()
}
