package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
)

// ProfileRepository — интерфейс для таблицы profiles.
type ProfileRepository interface {
	// ListByUserID возвращает все строки с данным id.
	// Порядок явный: created_at, затем row_id (первая строка — самая ранняя).
	ListByUserID(ctx context.Context, userID string) ([]model.Profile, error)
	// Create вставляет новую строку. Заполняет RowID, CreatedAt, UpdatedAt.
	Create(ctx context.Context, p *model.Profile) error
	// DeleteDuplicates в одной транзакции удаляет все строки id, кроме keepRowID.
	// Возвращает количество удалённых строк. ErrNotFound — строки keepRowID нет.
	DeleteDuplicates(ctx context.Context, userID string, keepRowID int64) (int64, error)
	// FindDuplicates возвращает группы id, у которых больше одной строки.
	FindDuplicates(ctx context.Context, limit int) ([]model.DuplicateGroup, error)
	// Probe проверяет доступность таблицы.
	Probe(ctx context.Context) error
}

// profileColumns — список колонок для SELECT.
const profileColumns = `row_id, id, email, full_name, avatar_url, role, bio, points, created_at, updated_at`

// profileRepo — реализация ProfileRepository.
type profileRepo struct {
	db DBTX
	tx *TxRunner
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepo{db: pool, tx: NewTxRunner(pool)}
}

// ListByUserID возвращает все строки профиля пользователя.
func (r *profileRepo) ListByUserID(ctx context.Context, userID string) ([]model.Profile, error) {
	if err := validateID(userID); err != nil {
		return nil, err
	}

	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE id = $1
		ORDER BY created_at, row_id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", userID, err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования профиля: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// Create вставляет строку профиля.
func (r *profileRepo) Create(ctx context.Context, p *model.Profile) error {
	if err := validateID(p.ID); err != nil {
		return err
	}

	query := `
		INSERT INTO profiles (id, email, full_name, avatar_url, role, bio, points)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING row_id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.Email, p.FullName, p.AvatarURL, string(p.Role), p.Bio, p.Points,
	).Scan(&p.RowID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания профиля %s: %w", p.ID, err)
	}
	return nil
}

// DeleteDuplicates блокирует строки id и удаляет все, кроме keepRowID,
// одним условным DELETE внутри транзакции.
func (r *profileRepo) DeleteDuplicates(ctx context.Context, userID string, keepRowID int64) (int64, error) {
	if err := validateID(userID); err != nil {
		return 0, err
	}

	var deleted int64
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT row_id FROM profiles WHERE id = $1 FOR UPDATE`, userID)
		if err != nil {
			return fmt.Errorf("ошибка блокировки профилей %s: %w", userID, err)
		}
		rowIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("ошибка чтения профилей %s: %w", userID, err)
		}

		found := false
		for _, id := range rowIDs {
			if id == keepRowID {
				found = true
				break
			}
		}
		if !found {
			return ErrNotFound
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM profiles WHERE id = $1 AND row_id <> $2`, userID, keepRowID)
		if err != nil {
			return fmt.Errorf("ошибка удаления дубликатов %s: %w", userID, err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// FindDuplicates возвращает группы дубликатов, начиная с самых старых.
func (r *profileRepo) FindDuplicates(ctx context.Context, limit int) ([]model.DuplicateGroup, error) {
	query := `
		SELECT id, COUNT(*), MIN(created_at)
		FROM profiles
		GROUP BY id
		HAVING COUNT(*) > 1
		ORDER BY MIN(created_at)
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска дубликатов профилей: %w", err)
	}
	defer rows.Close()

	var groups []model.DuplicateGroup
	for rows.Next() {
		var g model.DuplicateGroup
		if err := rows.Scan(&g.UserID, &g.Count, &g.Oldest); err != nil {
			return nil, fmt.Errorf("ошибка сканирования дубликатов: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Probe проверяет доступность таблицы profiles.
func (r *profileRepo) Probe(ctx context.Context) error {
	return probe(ctx, r.db, "profiles")
}

// scanProfile сканирует строку в model.Profile.
func scanProfile(row pgx.Row) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := row.Scan(
		&p.RowID, &p.ID, &p.Email, &p.FullName, &p.AvatarURL,
		&role, &p.Bio, &p.Points, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}
