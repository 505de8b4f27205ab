package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telecare/internal/domain"
)

type ConsultationRepositoryImpl struct {
	db *pgxpool.Pool
}

func NewConsultationRepository(db *pgxpool.Pool) *ConsultationRepositoryImpl {
	return &ConsultationRepositoryImpl{db: db}
}

func (r *ConsultationRepositoryImpl) Create(ctx context.Context, dto domain.CreateConsultationDTO) (int64, error) {
	query := `
		INSERT INTO consultations (practitioner_id, topic, status, scheduled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query, dto.PractitionerID, dto.Topic, domain.SessionStatusWaiting, dto.ScheduledAt).Scan(&id)
	return id, err
}

func (r *ConsultationRepositoryImpl) GetByID(ctx context.Context, id int64) (*domain.Consultation, error) {
	query := `
		SELECT id, practitioner_id, topic, status, scheduled_at, started_at, ended_at, created_at, updated_at
		FROM consultations
		WHERE id = $1`

	var c domain.Consultation
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.PractitionerID,
		&c.Topic,
		&c.Status,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.EndedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConsultationRepositoryImpl) UpdateStatus(ctx context.Context, id int64, status domain.SessionStatus) error {
	query := `UPDATE consultations SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, status, id)
	return err
}

func (r *ConsultationRepositoryImpl) SetStarted(ctx context.Context, id int64, startedAt time.Time) error {
	// started_at is stamped once, on the first admission.
	query := `
		UPDATE consultations
		SET status = $1, started_at = COALESCE(started_at, $2), updated_at = NOW()
		WHERE id = $3`
	_, err := r.db.Exec(ctx, query, domain.SessionStatusActive, startedAt, id)
	return err
}

func (r *ConsultationRepositoryImpl) SetEnded(ctx context.Context, id int64, endedAt time.Time) error {
	query := `
		UPDATE consultations
		SET status = $1, ended_at = $2, updated_at = NOW()
		WHERE id = $3`
	_, err := r.db.Exec(ctx, query, domain.SessionStatusEnded, endedAt, id)
	return err
}

func (r *ConsultationRepositoryImpl) AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.Participant, error) {
	query := `
		INSERT INTO participants (consultation_id, name, email, role, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, email, role, is_active, in_waiting_room, joined_at`

	var p domain.Participant
	err := r.db.QueryRow(ctx, query, consultationID, dto.Name, dto.Email, dto.Role, dto.Notes).Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Role,
		&p.IsActive,
		&p.InWaitingRoom,
		&p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ConsultationRepositoryImpl) GetParticipant(ctx context.Context, consultationID, participantID int64) (*domain.Participant, error) {
	query := `
		SELECT id, name, email, role, is_active, in_waiting_room, joined_at
		FROM participants
		WHERE consultation_id = $1 AND id = $2`

	var p domain.Participant
	err := r.db.QueryRow(ctx, query, consultationID, participantID).Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Role,
		&p.IsActive,
		&p.InWaitingRoom,
		&p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ConsultationRepositoryImpl) ListParticipants(ctx context.Context, consultationID int64) ([]domain.Participant, error) {
	query := `
		SELECT id, name, email, role, is_active, in_waiting_room, joined_at
		FROM participants
		WHERE consultation_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Email,
			&p.Role,
			&p.IsActive,
			&p.InWaitingRoom,
			&p.JoinedAt,
		)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (r *ConsultationRepositoryImpl) SetParticipantActive(ctx context.Context, consultationID, participantID int64, active bool) error {
	query := `
		UPDATE participants
		SET is_active = $1, in_waiting_room = false, joined_at = CASE WHEN $1 THEN NOW() ELSE joined_at END
		WHERE consultation_id = $2 AND id = $3`
	_, err := r.db.Exec(ctx, query, active, consultationID, participantID)
	return err
}

func (r *ConsultationRepositoryImpl) SetParticipantWaiting(ctx context.Context, consultationID, participantID int64) error {
	// entered_waiting_at is kept from the first entry so the queue position
	// survives reconnects.
	query := `
		UPDATE participants
		SET in_waiting_room = true, is_active = false,
		    entered_waiting_at = COALESCE(entered_waiting_at, NOW())
		WHERE consultation_id = $1 AND id = $2`
	_, err := r.db.Exec(ctx, query, consultationID, participantID)
	return err
}

func (r *ConsultationRepositoryImpl) AdmitParticipant(ctx context.Context, consultationID, participantID int64) error {
	query := `
		UPDATE participants
		SET in_waiting_room = false, is_active = true, entered_waiting_at = NULL, joined_at = NOW()
		WHERE consultation_id = $1 AND id = $2 AND in_waiting_room = true`
	_, err := r.db.Exec(ctx, query, consultationID, participantID)
	return err
}

func (r *ConsultationRepositoryImpl) RemoveParticipant(ctx context.Context, consultationID, participantID int64) error {
	query := `
		UPDATE participants
		SET is_active = false, in_waiting_room = false, entered_waiting_at = NULL
		WHERE consultation_id = $1 AND id = $2`
	_, err := r.db.Exec(ctx, query, consultationID, participantID)
	return err
}

func (r *ConsultationRepositoryImpl) ListWaiting(ctx context.Context, consultationID int64) ([]domain.WaitingRoomEntry, error) {
	query := `
		SELECT id, name, entered_waiting_at
		FROM participants
		WHERE consultation_id = $1 AND in_waiting_room = true
		ORDER BY entered_waiting_at, id`

	rows, err := r.db.Query(ctx, query, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WaitingRoomEntry
	for rows.Next() {
		var e domain.WaitingRoomEntry
		if err := rows.Scan(&e.ParticipantID, &e.Name, &e.EnteredAt); err != nil {
			return nil, err
		}
		e.QueuePosition = len(entries) + 1
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (r *ConsultationRepositoryImpl) CreateJoinLink(ctx context.Context, record domain.JoinLinkRecord) (int64, error) {
	query := `
		INSERT INTO join_links (consultation_id, email, role, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		record.ConsultationID,
		record.Email,
		record.Role,
		record.TokenHash,
		record.ExpiresAt,
	).Scan(&id)
	return id, err
}

func (r *ConsultationRepositoryImpl) ListJoinLinksByEmail(ctx context.Context, consultationID int64, email string) ([]domain.JoinLinkRecord, error) {
	query := `
		SELECT id, consultation_id, email, role, token_hash, expires_at, used_at, created_at
		FROM join_links
		WHERE consultation_id = $1 AND email = $2 AND used_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, consultationID, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.JoinLinkRecord
	for rows.Next() {
		var l domain.JoinLinkRecord
		err := rows.Scan(
			&l.ID,
			&l.ConsultationID,
			&l.Email,
			&l.Role,
			&l.TokenHash,
			&l.ExpiresAt,
			&l.UsedAt,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}

	return links, rows.Err()
}

func (r *ConsultationRepositoryImpl) MarkJoinLinkUsed(ctx context.Context, id int64) error {
	query := `UPDATE join_links SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
