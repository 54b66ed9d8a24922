//go:build cgo

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/dusk-indust/coursegen/internal/course"
)

// KuzuStore implements the course contracts on an embedded KuzuDB.
// Each course owns one Stage node per stage through HAS_STAGE edges. It
// requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time interface checks.
var (
	_ course.Store         = (*KuzuStore)(nil)
	_ course.Conversations = (*KuzuStore)(nil)
)

// NewKuzuStore opens an in-memory database and initialises its schema.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore opens (or creates) a file-backed database at dbPath.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	s := &KuzuStore{db: db, conn: conn}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema ----------

// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Course(
		id STRING,
		title STRING,
		subject STRING,
		grade_level STRING,
		total_class_hours DOUBLE,
		schedule_description STRING,
		duration_weeks INT64,
		description STRING,
		created_at INT64,
		updated_at INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Stage(
		key STRING,
		course_id STRING,
		stage INT64,
		content STRING,
		PRIMARY KEY(key)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Message(
		id STRING,
		course_id STRING,
		role STRING,
		content STRING,
		step INT64,
		ts INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_STAGE(FROM Course TO Stage)`,
}

func (s *KuzuStore) initSchema() error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

func stageKey(courseID string, stage course.StageID) string {
	return fmt.Sprintf("%s/%d", courseID, int(stage))
}

// ---------- Store ----------

// Create inserts a course with one empty Stage node per stage.
func (s *KuzuStore) Create(_ context.Context, info course.Info) (*course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := &course.Course{ID: uuid.NewString(), Info: info, CreatedAt: now, UpdatedAt: now}
	err := s.exec(
		`CREATE (:Course {
			id: $id, title: $title, subject: $subject, grade_level: $grade,
			total_class_hours: $hours, schedule_description: $schedule,
			duration_weeks: $weeks, description: $desc,
			created_at: $ts, updated_at: $ts
		})`,
		map[string]any{
			"id":       c.ID,
			"title":    info.Title,
			"subject":  info.Subject,
			"grade":    info.GradeLevel,
			"hours":    info.TotalClassHours,
			"schedule": info.ScheduleDescription,
			"weeks":    int64(info.DurationWeeks),
			"desc":     info.Description,
			"ts":       now.UnixNano(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("kuzu: create course: %w", err)
	}

	for _, st := range course.Stages {
		err := s.exec(
			`MATCH (c:Course {id: $id})
			 CREATE (c)-[:HAS_STAGE]->(:Stage {key: $key, course_id: $id, stage: $stage, content: ''})`,
			map[string]any{"id": c.ID, "key": stageKey(c.ID, st), "stage": int64(st)},
		)
		if err != nil {
			return nil, fmt.Errorf("kuzu: create stage %d: %w", st, err)
		}
	}
	return c, nil
}

// Get loads a course and its stage contents.
func (s *KuzuStore) Get(_ context.Context, id string) (*course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *KuzuStore) get(id string) (*course.Course, error) {
	rows, err := s.query(
		`MATCH (c:Course {id: $id})
		 RETURN c.id, c.title, c.subject, c.grade_level, c.total_class_hours,
		        c.schedule_description, c.duration_weeks, c.description,
		        c.created_at, c.updated_at`,
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(id)
	}
	r := rows[0]
	c := &course.Course{
		ID: toString(r[0]),
		Info: course.Info{
			Title:               toString(r[1]),
			Subject:             toString(r[2]),
			GradeLevel:          toString(r[3]),
			TotalClassHours:     toFloat(r[4]),
			ScheduleDescription: toString(r[5]),
			DurationWeeks:       int(toInt(r[6])),
			Description:         toString(r[7]),
		},
		CreatedAt: time.Unix(0, toInt(r[8])).UTC(),
		UpdatedAt: time.Unix(0, toInt(r[9])).UTC(),
	}

	stages, err := s.query(
		`MATCH (:Course {id: $id})-[:HAS_STAGE]->(st:Stage) RETURN st.stage, st.content`,
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	for _, row := range stages {
		c.SetContent(course.StageID(toInt(row[0])), toString(row[1]))
	}
	return c, nil
}

// List returns courses ordered by creation time.
func (s *KuzuStore) List(_ context.Context, skip, limit int) ([]course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if skip < 0 {
		skip = 0
	}
	cypher := fmt.Sprintf("MATCH (c:Course) RETURN c.id ORDER BY c.created_at, c.id SKIP %d", skip)
	if limit > 0 {
		cypher += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.query(cypher, nil)
	if err != nil {
		return nil, err
	}
	out := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		c, err := s.get(toString(r[0]))
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// UpdateStage replaces the content of one Stage node.
func (s *KuzuStore) UpdateStage(_ context.Context, id string, stage course.StageID, content string) error {
	if !stage.Valid() {
		return fmt.Errorf("store: invalid stage %d", int(stage))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(id); err != nil {
		return err
	} else if !ok {
		return notFound(id)
	}
	if err := s.exec(
		`MATCH (st:Stage {key: $key}) SET st.content = $content`,
		map[string]any{"key": stageKey(id, stage), "content": content},
	); err != nil {
		return fmt.Errorf("kuzu: update stage: %w", err)
	}
	return s.exec(
		`MATCH (c:Course {id: $id}) SET c.updated_at = $ts`,
		map[string]any{"id": id, "ts": time.Now().UTC().UnixNano()},
	)
}

// Delete removes a course with its stages and messages.
func (s *KuzuStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(id); err != nil {
		return err
	} else if !ok {
		return notFound(id)
	}
	params := map[string]any{"id": id}
	for _, stmt := range []string{
		`MATCH (st:Stage {course_id: $id}) DETACH DELETE st`,
		`MATCH (m:Message {course_id: $id}) DELETE m`,
		`MATCH (c:Course {id: $id}) DETACH DELETE c`,
	} {
		if err := s.exec(stmt, params); err != nil {
			return fmt.Errorf("kuzu: delete course: %w", err)
		}
	}
	return nil
}

// ---------- Conversations ----------

// AppendMessages stores messages for a course.
func (s *KuzuStore) AppendMessages(_ context.Context, courseID string, msgs ...course.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(courseID); err != nil {
		return err
	} else if !ok {
		return notFound(courseID)
	}
	for _, m := range msgs {
		err := s.exec(
			`CREATE (:Message {id: $id, course_id: $cid, role: $role, content: $content, step: $step, ts: $ts})`,
			map[string]any{
				"id":      m.ID,
				"cid":     courseID,
				"role":    string(m.Role),
				"content": m.Content,
				"step":    int64(m.Step),
				"ts":      m.Timestamp.UnixNano(),
			},
		)
		if err != nil {
			return fmt.Errorf("kuzu: append message: %w", err)
		}
	}
	return nil
}

// Messages returns the conversation ordered by timestamp.
func (s *KuzuStore) Messages(_ context.Context, courseID string) ([]course.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(courseID); err != nil {
		return nil, err
	} else if !ok {
		return nil, notFound(courseID)
	}
	rows, err := s.query(
		`MATCH (m:Message {course_id: $cid})
		 RETURN m.id, m.role, m.content, m.step, m.ts ORDER BY m.ts`,
		map[string]any{"cid": courseID},
	)
	if err != nil {
		return nil, err
	}
	out := make([]course.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, course.Message{
			ID:        toString(r[0]),
			Role:      course.Role(toString(r[1])),
			Content:   toString(r[2]),
			Step:      course.StageID(toInt(r[3])),
			Timestamp: time.Unix(0, toInt(r[4])).UTC(),
		})
	}
	return out, nil
}

// ClearMessages deletes the conversation of a course.
func (s *KuzuStore) ClearMessages(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(courseID); err != nil {
		return err
	} else if !ok {
		return notFound(courseID)
	}
	return s.exec(`MATCH (m:Message {course_id: $cid}) DELETE m`, map[string]any{"cid": courseID})
}

// ---------- Helpers ----------

func (s *KuzuStore) exists(id string) (bool, error) {
	rows, err := s.query(`MATCH (c:Course {id: $id}) RETURN count(c)`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return len(rows) > 0 && toInt(rows[0][0]) > 0, nil
}

// exec runs a parameterized statement and discards the result.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a statement and collects every row as a []any in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
