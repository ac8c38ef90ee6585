package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okralab/okra-server/internal/models"
)

// SQLiteStore is the durable store. Referential integrity carries the
// cascades: deleting a task removes its assignments, deleting an experiment
// removes its tasks, ratings and requirement links.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func timeFromNull(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored time %q: %w", ns.String, err)
	}
	return &t, nil
}

func blobToNull(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func blobFromNull(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

// Participants

func (s *SQLiteStore) AddParticipant(p *models.Participant) error {
	_, err := s.db.Exec(
		`INSERT INTO participants (id, label, device_key, registration_key) VALUES (?, ?, ?, ?)`,
		p.ID, p.Label, toNullString(p.DeviceKey), toNullString(p.RegistrationKey),
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetParticipant(id string) (*models.Participant, error) {
	return s.scanParticipant(s.db.QueryRow(
		`SELECT id, label, device_key, registration_key FROM participants WHERE id = ?`, id,
	))
}

func (s *SQLiteStore) GetParticipantByLabel(label string) (*models.Participant, error) {
	return s.scanParticipant(s.db.QueryRow(
		`SELECT id, label, device_key, registration_key FROM participants WHERE label = ? ORDER BY id LIMIT 1`, label,
	))
}

func (s *SQLiteStore) scanParticipant(row *sql.Row) (*models.Participant, error) {
	var p models.Participant
	var deviceKey, registrationKey sql.NullString
	err := row.Scan(&p.ID, &p.Label, &deviceKey, &registrationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.DeviceKey = fromNullString(deviceKey)
	p.RegistrationKey = fromNullString(registrationKey)
	return &p, nil
}

func (s *SQLiteStore) ListParticipants() ([]*models.Participant, error) {
	rows, err := s.db.Query(
		`SELECT id, label, device_key, registration_key FROM participants ORDER BY label, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	out := []*models.Participant{}
	for rows.Next() {
		var p models.Participant
		var deviceKey, registrationKey sql.NullString
		if err := rows.Scan(&p.ID, &p.Label, &deviceKey, &registrationKey); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.DeviceKey = fromNullString(deviceKey)
		p.RegistrationKey = fromNullString(registrationKey)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateParticipant(p *models.Participant) error {
	_, err := s.db.Exec(
		`UPDATE participants SET label = ?, device_key = ?, registration_key = ? WHERE id = ?`,
		p.Label, toNullString(p.DeviceKey), toNullString(p.RegistrationKey), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteParticipant(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM participants WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Experiments

const experimentColumns = `id, task_type, title, cover_image_url, instructions,
	instructions_after_task, instructions_after_practice_task, instructions_after_final_task,
	practice_task_id, active`

func (s *SQLiteStore) GetExperiment(id string) (*models.Experiment, error) {
	rows, err := s.db.Query(
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	exps, err := s.collectExperiments(rows)
	if err != nil {
		return nil, err
	}
	if len(exps) == 0 {
		return nil, nil
	}
	return exps[0], nil
}

func (s *SQLiteStore) ListExperiments() ([]*models.Experiment, error) {
	rows, err := s.db.Query(
		`SELECT ` + experimentColumns + ` FROM experiments ORDER BY title, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return s.collectExperiments(rows)
}

func (s *SQLiteStore) ListExperimentsForParticipant(participantID string) ([]*models.Experiment, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT e.id, e.task_type, e.title, e.cover_image_url, e.instructions,
			e.instructions_after_task, e.instructions_after_practice_task, e.instructions_after_final_task,
			e.practice_task_id, e.active
		FROM experiments e
		JOIN tasks t ON t.experiment_id = e.id
		JOIN task_assignments a ON a.task_id = t.id
		WHERE a.participant_id = ?
		ORDER BY e.title, e.id`,
		participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments for participant: %w", err)
	}
	return s.collectExperiments(rows)
}

func (s *SQLiteStore) collectExperiments(rows *sql.Rows) ([]*models.Experiment, error) {
	defer rows.Close()
	out := []*models.Experiment{}
	for rows.Next() {
		var e models.Experiment
		var taskType string
		var cover, after, afterPractice, afterFinal, practiceID sql.NullString
		var active int64
		err := rows.Scan(&e.ID, &taskType, &e.Title, &cover, &e.Instructions,
			&after, &afterPractice, &afterFinal, &practiceID, &active)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		e.TaskType = models.TaskType(taskType)
		e.CoverImageURL = fromNullString(cover)
		e.InstructionsAfterTask = fromNullString(after)
		e.InstructionsAfterPracticeTask = fromNullString(afterPractice)
		e.InstructionsAfterFinalTask = fromNullString(afterFinal)
		e.PracticeTaskID = fromNullString(practiceID)
		e.Active = active != 0
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range out {
		reqs, err := s.loadRequirements(e.ID)
		if err != nil {
			return nil, err
		}
		e.RequiredExperiments = reqs
	}
	return out, nil
}

func (s *SQLiteStore) loadRequirements(experimentID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT required_id FROM experiment_requirements WHERE experiment_id = ? ORDER BY rowid`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("load requirements: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveExperiment(exp *models.Experiment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO experiments (`+experimentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_type = excluded.task_type,
			title = excluded.title,
			cover_image_url = excluded.cover_image_url,
			instructions = excluded.instructions,
			instructions_after_task = excluded.instructions_after_task,
			instructions_after_practice_task = excluded.instructions_after_practice_task,
			instructions_after_final_task = excluded.instructions_after_final_task,
			practice_task_id = excluded.practice_task_id,
			active = excluded.active`,
		exp.ID, string(exp.TaskType), exp.Title, toNullString(exp.CoverImageURL), exp.Instructions,
		toNullString(exp.InstructionsAfterTask), toNullString(exp.InstructionsAfterPracticeTask),
		toNullString(exp.InstructionsAfterFinalTask), toNullString(exp.PracticeTaskID),
		boolToInt64(exp.Active),
	)
	if err != nil {
		return fmt.Errorf("upsert experiment: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM experiment_requirements WHERE experiment_id = ?`, exp.ID); err != nil {
		return fmt.Errorf("clear requirements: %w", err)
	}
	for _, reqID := range exp.RequiredExperiments {
		_, err := tx.Exec(
			`INSERT INTO experiment_requirements (experiment_id, required_id) VALUES (?, ?)`,
			exp.ID, reqID,
		)
		if err != nil {
			return fmt.Errorf("insert requirement: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteExperiment(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete experiment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Tasks

func (s *SQLiteStore) GetTask(id string) (*models.Task, error) {
	return s.scanTask(s.db.QueryRow(
		`SELECT id, label, experiment_id, data FROM tasks WHERE id = ?`, id,
	))
}

func (s *SQLiteStore) GetTaskByLabel(experimentID, label string) (*models.Task, error) {
	return s.scanTask(s.db.QueryRow(
		`SELECT id, label, experiment_id, data FROM tasks WHERE experiment_id = ? AND label = ? ORDER BY rowid LIMIT 1`,
		experimentID, label,
	))
}

func (s *SQLiteStore) scanTask(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var experimentID, data sql.NullString
	err := row.Scan(&t.ID, &t.Label, &experimentID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.ExperimentID = fromNullString(experimentID)
	t.Data = blobFromNull(data)
	return &t, nil
}

func (s *SQLiteStore) ListTasks(experimentID string) ([]*models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, label, experiment_id, data FROM tasks WHERE experiment_id = ? ORDER BY rowid`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	out := []*models.Task{}
	for rows.Next() {
		var t models.Task
		var expID, data sql.NullString
		if err := rows.Scan(&t.ID, &t.Label, &expID, &data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.ExperimentID = fromNullString(expID)
		t.Data = blobFromNull(data)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTask(t *models.Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, label, experiment_id, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			experiment_id = excluded.experiment_id,
			data = excluded.data`,
		t.ID, t.Label, toNullString(t.ExperimentID), blobToNull(t.Data),
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Assignments

const assignmentColumns = `a.id, a.participant_id, a.task_id, a.results, a.started_time, a.finished_time, a.canceled`

func (s *SQLiteStore) CreateAssignment(a *models.TaskAssignment) error {
	res, err := s.db.Exec(
		`INSERT INTO task_assignments (participant_id, task_id, results, started_time, finished_time, canceled)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ParticipantID, a.TaskID, blobToNull(a.Results),
		timeToNull(a.StartedTime), timeToNull(a.FinishedTime), boolToInt64(a.Canceled),
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("assignment id: %w", err)
	}
	a.ID = id
	return nil
}

func (s *SQLiteStore) UpdateAssignment(a *models.TaskAssignment) error {
	_, err := s.db.Exec(
		`UPDATE task_assignments SET results = ?, started_time = ?, finished_time = ?, canceled = ? WHERE id = ?`,
		blobToNull(a.Results), timeToNull(a.StartedTime), timeToNull(a.FinishedTime),
		boolToInt64(a.Canceled), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveAssignments(participantID string) ([]*models.TaskAssignment, error) {
	return s.queryAssignments(
		`SELECT `+assignmentColumns+` FROM task_assignments a
		WHERE a.participant_id = ? AND a.started_time IS NOT NULL AND a.finished_time IS NULL
		ORDER BY a.id`,
		participantID,
	)
}

func (s *SQLiteStore) NextPendingAssignment(experimentID, participantID string) (*models.TaskAssignment, error) {
	assignments, err := s.queryAssignments(
		`SELECT `+assignmentColumns+` FROM task_assignments a
		JOIN tasks t ON t.id = a.task_id
		WHERE a.participant_id = ? AND a.started_time IS NULL AND t.experiment_id = ?
		ORDER BY a.id LIMIT 1`,
		participantID, experimentID,
	)
	if err != nil || len(assignments) == 0 {
		return nil, err
	}
	return assignments[0], nil
}

func (s *SQLiteStore) OldestUnfinishedAssignment(taskID, participantID string) (*models.TaskAssignment, error) {
	assignments, err := s.queryAssignments(
		`SELECT `+assignmentColumns+` FROM task_assignments a
		WHERE a.task_id = ? AND a.participant_id = ? AND a.finished_time IS NULL
		ORDER BY a.id LIMIT 1`,
		taskID, participantID,
	)
	if err != nil || len(assignments) == 0 {
		return nil, err
	}
	return assignments[0], nil
}

func (s *SQLiteStore) ListAssignments(experimentID, participantID string, practice bool) ([]*models.TaskAssignment, error) {
	if practice {
		return s.queryAssignments(
			`SELECT `+assignmentColumns+` FROM task_assignments a
			WHERE a.participant_id = ?
			AND a.task_id = (SELECT practice_task_id FROM experiments WHERE id = ?)
			ORDER BY a.id`,
			participantID, experimentID,
		)
	}
	return s.queryAssignments(
		`SELECT `+assignmentColumns+` FROM task_assignments a
		JOIN tasks t ON t.id = a.task_id
		WHERE a.participant_id = ? AND t.experiment_id = ?
		ORDER BY a.id`,
		participantID, experimentID,
	)
}

func (s *SQLiteStore) ListAllAssignments() ([]*models.TaskAssignment, error) {
	return s.queryAssignments(
		`SELECT ` + assignmentColumns + ` FROM task_assignments a ORDER BY a.id`,
	)
}

func (s *SQLiteStore) DeletePendingAssignments(experimentID, participantID string) error {
	_, err := s.db.Exec(
		`DELETE FROM task_assignments
		WHERE participant_id = ? AND started_time IS NULL
		AND task_id IN (SELECT id FROM tasks WHERE experiment_id = ?)`,
		participantID, experimentID,
	)
	if err != nil {
		return fmt.Errorf("delete pending assignments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountAssignments(experimentID, participantID string, f models.AssignmentFilter) (int, error) {
	query := `SELECT COUNT(*) FROM task_assignments a WHERE a.participant_id = ?`
	args := []any{participantID}
	if f.Practice {
		query += ` AND a.task_id = (SELECT practice_task_id FROM experiments WHERE id = ?)`
	} else {
		query += ` AND a.task_id IN (SELECT id FROM tasks WHERE experiment_id = ?)`
	}
	args = append(args, experimentID)
	if f.Started != nil {
		// Historical: any started filter means "has a start time".
		query += ` AND a.started_time IS NOT NULL`
	}
	if f.Finished != nil {
		if *f.Finished {
			query += ` AND a.finished_time IS NOT NULL`
		} else {
			query += ` AND a.finished_time IS NULL`
		}
	}
	if f.Canceled != nil {
		query += ` AND a.canceled = ?`
		args = append(args, boolToInt64(*f.Canceled))
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assignments: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryAssignments(query string, args ...any) ([]*models.TaskAssignment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()
	out := []*models.TaskAssignment{}
	for rows.Next() {
		var a models.TaskAssignment
		var results, started, finished sql.NullString
		var canceled int64
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.TaskID, &results, &started, &finished, &canceled); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Results = blobFromNull(results)
		if a.StartedTime, err = timeFromNull(started); err != nil {
			return nil, err
		}
		if a.FinishedTime, err = timeFromNull(finished); err != nil {
			return nil, err
		}
		a.Canceled = canceled != 0
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Ratings

func (s *SQLiteStore) ListRatings(experimentID string) ([]*models.TaskRating, error) {
	rows, err := s.db.Query(
		`SELECT id, experiment_id, question, rating_type, low_extreme, high_extreme
		FROM task_ratings WHERE experiment_id = ? ORDER BY position, rowid`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()
	out := []*models.TaskRating{}
	for rows.Next() {
		var r models.TaskRating
		var ratingType string
		var low, high sql.NullString
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Question, &ratingType, &low, &high); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.RatingType = models.RatingType(ratingType)
		r.LowExtreme = fromNullString(low)
		r.HighExtreme = fromNullString(high)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceRatings(experimentID string, ratings []*models.TaskRating) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace ratings: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_ratings WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("clear ratings: %w", err)
	}
	for i, r := range ratings {
		_, err := tx.Exec(
			`INSERT INTO task_ratings (id, experiment_id, question, rating_type, low_extreme, high_extreme, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, experimentID, r.Question, string(r.RatingType),
			toNullString(r.LowExtreme), toNullString(r.HighExtreme), i,
		)
		if err != nil {
			return fmt.Errorf("insert rating: %w", err)
		}
	}
	return tx.Commit()
}

// Operators

func (s *SQLiteStore) GetOperator(username string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.QueryRow(
		`SELECT username, pass_hash FROM operators WHERE username = ?`, username,
	).Scan(&op.Username, &op.PassHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return &op, nil
}

func (s *SQLiteStore) UpsertOperator(op *models.Operator) error {
	_, err := s.db.Exec(
		`INSERT INTO operators (username, pass_hash) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET pass_hash = excluded.pass_hash`,
		op.Username, op.PassHash,
	)
	if err != nil {
		return fmt.Errorf("upsert operator: %w", err)
	}
	return nil
}
