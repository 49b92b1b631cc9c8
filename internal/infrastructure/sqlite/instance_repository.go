package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// instanceColumns is the list of columns to select for instance queries.
const instanceColumns = `pk, namespace, id, state, text, start_received, cancel_received,
	tasks, result, failure, timer_fire_at, created_at, started_at, completed_at, updated_at, last_seq`

// instanceRepository implements domain.InstanceRepository using SQLite.
type instanceRepository struct {
	db *sql.DB
}

// newInstanceRepository creates a new instanceRepository instance.
func newInstanceRepository(db *sql.DB) *instanceRepository {
	return &instanceRepository{db: db}
}

// Ensure instanceRepository implements domain.InstanceRepository.
var _ domain.InstanceRepository = (*instanceRepository)(nil)

// scanInstance scans a row into an InstanceModel.
func scanInstance(scanner interface{ Scan(...any) error }) (*InstanceModel, error) {
	var model InstanceModel
	err := scanner.Scan(
		&model.PK, &model.Namespace, &model.ID, &model.State, &model.Text,
		&model.StartReceived, &model.CancelReceived,
		&model.Tasks, &model.Result, &model.Failure, &model.TimerFireAt,
		&model.CreatedAt, &model.StartedAt, &model.CompletedAt, &model.UpdatedAt, &model.LastSeq,
	)
	return &model, err
}

// Create stores a new instance together with its first events.
func (r *instanceRepository) Create(ctx context.Context, inst *domain.Instance, events []domain.Event) error {
	if err := domain.CheckAppend(0, events); err != nil {
		return err
	}
	model, err := toInstanceModel(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM instances WHERE namespace = ? AND id = ?`, model.Namespace, model.ID,
	).Scan(&exists)
	if err == nil {
		return domain.ErrAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check instance: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO instances (
			namespace, id, state, text, start_received, cancel_received,
			tasks, result, failure, timer_fire_at, created_at, started_at, completed_at, updated_at, last_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.Namespace, model.ID, model.State, model.Text, model.StartReceived, model.CancelReceived,
		model.Tasks, model.Result, model.Failure, model.TimerFireAt,
		model.CreatedAt, model.StartedAt, model.CompletedAt, model.UpdatedAt, model.LastSeq,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	pk, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := insertEvents(ctx, tx, pk, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instance: %w", err)
	}
	return nil
}

// Append adds events and replaces the snapshot in one transaction.
func (r *instanceRepository) Append(ctx context.Context, inst *domain.Instance, events []domain.Event) error {
	model, err := toInstanceModel(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pk, lastSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT pk, last_seq FROM instances WHERE namespace = ? AND id = ?`, model.Namespace, model.ID,
	).Scan(&pk, &lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Namespace: inst.Namespace, ID: inst.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	if err := domain.CheckAppend(lastSeq, events); err != nil {
		return err
	}

	if err := insertEvents(ctx, tx, pk, events); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE instances SET
			state = ?, text = ?, start_received = ?, cancel_received = ?,
			tasks = ?, result = ?, failure = ?, timer_fire_at = ?,
			started_at = ?, completed_at = ?, updated_at = ?, last_seq = ?
		WHERE pk = ?`,
		model.State, model.Text, model.StartReceived, model.CancelReceived,
		model.Tasks, model.Result, model.Failure, model.TimerFireAt,
		model.StartedAt, model.CompletedAt, model.UpdatedAt, model.LastSeq,
		pk,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, pk int64, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO instance_events (instance_pk, seq, type, payload, recorded_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, pk, ev.Seq, ev.Type, ev.Payload, millis(ev.RecordedAt)); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Get retrieves an instance snapshot.
// Returns NotFoundError if no matching instance exists.
func (r *instanceRepository) Get(ctx context.Context, namespace, id string) (*domain.Instance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE namespace = ? AND id = ?`,
		namespace, id,
	)
	model, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Namespace: namespace, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}
	inst, err := model.toDomain()
	if err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}
	return inst, nil
}

// Events returns the history of an instance ordered by seq.
func (r *instanceRepository) Events(ctx context.Context, namespace, id string) ([]domain.Event, error) {
	var pk int64
	err := r.db.QueryRowContext(ctx,
		`SELECT pk FROM instances WHERE namespace = ? AND id = ?`, namespace, id,
	).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Namespace: namespace, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT instance_pk, seq, type, payload, recorded_at FROM instance_events
		 WHERE instance_pk = ? ORDER BY seq`,
		pk,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var m EventModel
		if err := rows.Scan(&m.InstancePK, &m.Seq, &m.Type, &m.Payload, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, m.toDomain(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// List retrieves instances matching the filter, newest first.
// An empty namespace lists every namespace.
func (r *instanceRepository) List(ctx context.Context, namespace string, filter domain.ListFilter) ([]*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE 1 = 1`
	var args []any

	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}
	if len(filter.States) > 0 {
		query += ` AND state IN (?` + strings.Repeat(`, ?`, len(filter.States)-1) + `)`
		for _, s := range filter.States {
			args = append(args, s)
		}
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.Instance
	for rows.Next() {
		model, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst, err := model.toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", model.ID, err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return instances, nil
}

// Close closes the underlying database.
func (r *instanceRepository) Close() error {
	return r.db.Close()
}
