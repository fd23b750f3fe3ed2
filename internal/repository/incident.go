package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

const incidentCacheTTL = 5 * time.Minute

// IncidentRepository покрывает контракты service.IncidentRepository,
// cluster.Store и notification.Store
type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client) *IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

const incidentColumns = `
	id,
	category,
	ST_Y(centroid::geometry) as centroid_latitude,
	ST_X(centroid::geometry) as centroid_longitude,
	confirmation_count,
	severity,
	status,
	version,
	COALESCE(before_image_ref, ''),
	COALESCE(after_image_ref, ''),
	created_at,
	updated_at,
	resolved_at`

func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Category,
		&incident.CentroidLatitude,
		&incident.CentroidLongitude,
		&incident.ConfirmationCount,
		&incident.Severity,
		&incident.Status,
		&incident.Version,
		&incident.BeforeImageRef,
		&incident.AfterImageRef,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

// CreateIncidentWithReport создает новый инцидент вместе с его учредительным
// отчетом в одной транзакции
func (r *IncidentRepository) CreateIncidentWithReport(ctx context.Context, incident *models.Incident, report *models.Report) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO incidents (category, centroid, confirmation_count, severity, status, before_image_ref)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326), $4, $5, $6, NULLIF($7, ''))
		RETURNING id, version, created_at, updated_at;
	`
	err = tx.QueryRow(ctx, query,
		incident.Category,
		incident.CentroidLongitude,
		incident.CentroidLatitude,
		incident.ConfirmationCount,
		incident.Severity,
		incident.Status,
		incident.BeforeImageRef,
	).Scan(&incident.ID, &incident.Version, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	report.IncidentID = incident.ID
	if err := insertReport(ctx, tx, report); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	return nil
}

// AddReportToIncident присоединяет отчет к существующему инциденту: обновляет
// центроид, счетчик и срочность под контролем версии и вставляет отчет.
// При сдвиге версии возвращает ErrConcurrencyConflict без изменений.
func (r *IncidentRepository) AddReportToIncident(ctx context.Context, incident *models.Incident, report *models.Report) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin join transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE incidents SET
			centroid = ST_SetSRID(ST_MakePoint($1, $2), 4326),
			confirmation_count = $3,
			severity = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at;
	`
	err = tx.QueryRow(ctx, query,
		incident.CentroidLongitude,
		incident.CentroidLatitude,
		incident.ConfirmationCount,
		incident.Severity,
		incident.ID,
		incident.Version,
	).Scan(&incident.Version, &incident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("join of incident %s rejected: %w", incident.ID, apperrors.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to update incident on join: %w", err)
	}

	report.IncidentID = incident.ID
	if err := insertReport(ctx, tx, report); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit join transaction: %w", err)
	}
	return nil
}

func insertReport(ctx context.Context, tx pgx.Tx, report *models.Report) error {
	query := `
		INSERT INTO reports (id, reporter_id, category, location, description, before_image_ref, incident_id, submitted_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, NULLIF($7, ''), $8, $9);
	`
	_, err := tx.Exec(ctx, query,
		report.ID,
		report.ReporterID,
		report.Category,
		report.Longitude,
		report.Latitude,
		report.Description,
		report.BeforeImageRef,
		report.IncidentID,
		report.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// GetIncidentByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetIncidentByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident %s: %w", id, apperrors.ErrIncidentNotFound)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// ListIncidents возвращает инциденты по фильтрам статуса и срочности,
// отсортированные по времени последнего обновления (новые первыми)
func (r *IncidentRepository) ListIncidents(ctx context.Context, status models.Status, sev models.Severity) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR severity = $2)
		ORDER BY updated_at DESC;
	`
	rows, err := r.db.Query(ctx, query, string(status), string(sev))
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return incidents, nil
}

// ListActiveIncidents возвращает все инциденты в статусах OPEN/IN_PROGRESS
// для восстановления геоиндекса при старте
func (r *IncidentRepository) ListActiveIncidents(ctx context.Context) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status IN ('OPEN', 'IN_PROGRESS');
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row in ListActiveIncidents: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in ListActiveIncidents: %w", err)
	}
	return incidents, nil
}

// AcknowledgeIncident переводит инцидент OPEN -> IN_PROGRESS под контролем версии
func (r *IncidentRepository) AcknowledgeIncident(ctx context.Context, id uuid.UUID, version int64) error {
	query := `
		UPDATE incidents SET
			status = 'IN_PROGRESS',
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'OPEN';
	`
	cmdTag, err := r.db.Exec(ctx, query, id, version)
	if err != nil {
		return fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("acknowledge of incident %s rejected: %w", id, apperrors.ErrConcurrencyConflict)
	}
	return nil
}

// ResolveIncident закрывает инцидент и в той же транзакции создает PENDING
// уведомления для каждого уникального репортера среди его отчетов.
// Возвращает созданные уведомления для постановки в очередь доставки.
func (r *IncidentRepository) ResolveIncident(ctx context.Context, id uuid.UUID, version int64, afterImageRef string, resolvedAt time.Time) ([]*models.Notification, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin resolve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE incidents SET
			status = 'RESOLVED',
			after_image_ref = $1,
			resolved_at = $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $3 AND version = $4 AND status IN ('OPEN', 'IN_PROGRESS');
	`
	cmdTag, err := tx.Exec(ctx, query, afterImageRef, resolvedAt, id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, fmt.Errorf("resolve of incident %s rejected: %w", id, apperrors.ErrConcurrencyConflict)
	}

	reporterRows, err := tx.Query(ctx, `SELECT DISTINCT reporter_id FROM reports WHERE incident_id = $1;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select distinct reporters: %w", err)
	}
	reporters := make([]string, 0)
	for reporterRows.Next() {
		var reporterID string
		if err := reporterRows.Scan(&reporterID); err != nil {
			reporterRows.Close()
			return nil, fmt.Errorf("failed to scan reporter id: %w", err)
		}
		reporters = append(reporters, reporterID)
	}
	reporterRows.Close()
	if err := reporterRows.Err(); err != nil {
		return nil, fmt.Errorf("error reporter iteration: %w", err)
	}

	notifications := make([]*models.Notification, 0, len(reporters))
	insertQuery := `
		INSERT INTO notifications (id, incident_id, reporter_id, status, attempts)
		VALUES ($1, $2, $3, 'PENDING', 0)
		RETURNING created_at, updated_at;
	`
	for _, reporterID := range reporters {
		notification := &models.Notification{
			ID:         uuid.New(),
			IncidentID: id,
			ReporterID: reporterID,
			Status:     models.NotificationPending,
		}
		err := tx.QueryRow(ctx, insertQuery, notification.ID, id, reporterID).
			Scan(&notification.CreatedAt, &notification.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert notification: %w", err)
		}
		notifications = append(notifications, notification)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit resolve transaction: %w", err)
	}
	return notifications, nil
}

// GetNotificationByID возвращает уведомление по его UUID
func (r *IncidentRepository) GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	notification := &models.Notification{}
	query := `
		SELECT id, incident_id, reporter_id, status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM notifications
		WHERE id = $1;
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&notification.ID,
		&notification.IncidentID,
		&notification.ReporterID,
		&notification.Status,
		&notification.Attempts,
		&notification.LastError,
		&notification.CreatedAt,
		&notification.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification %s not found", id)
		}
		return nil, fmt.Errorf("failed to get notification by id: %w", err)
	}
	return notification, nil
}

// UpdateNotification сохраняет статус доставки, число попыток и последнюю ошибку
func (r *IncidentRepository) UpdateNotification(ctx context.Context, notification *models.Notification) error {
	query := `
		UPDATE notifications SET
			status = $1,
			attempts = $2,
			last_error = NULLIF($3, ''),
			updated_at = NOW()
		WHERE id = $4;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		notification.Status,
		notification.Attempts,
		notification.LastError,
		notification.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found for update", notification.ID)
	}
	return nil
}

// ListStalePendingNotifications возвращает PENDING уведомления, не обновлявшиеся
// дольше указанного срока - кандидаты на повторную постановку в очередь после сбоя
func (r *IncidentRepository) ListStalePendingNotifications(ctx context.Context, olderThan time.Duration) ([]*models.Notification, error) {
	query := `
		SELECT id, incident_id, reporter_id, status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM notifications
		WHERE status = 'PENDING'
			AND updated_at < NOW() - ($1 * INTERVAL '1 second');
	`
	rows, err := r.db.Query(ctx, query, int(olderThan.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		notification := &models.Notification{}
		err := rows.Scan(
			&notification.ID,
			&notification.IncidentID,
			&notification.ReporterID,
			&notification.Status,
			&notification.Attempts,
			&notification.LastError,
			&notification.CreatedAt,
			&notification.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error notification iteration: %w", err)
	}
	return notifications, nil
}

// GetIncidentStats возвращает сводку: активные инциденты, решенные за сегодня
// и оценку числа граждан, которым помогло решение
func (r *IncidentRepository) GetIncidentStats(ctx context.Context) (*models.IncidentStats, error) {
	stats := &models.IncidentStats{}
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('OPEN', 'IN_PROGRESS')),
			COUNT(*) FILTER (WHERE status = 'RESOLVED' AND resolved_at >= date_trunc('day', NOW())),
			COALESCE(SUM(confirmation_count) FILTER (WHERE status = 'RESOLVED'), 0)
		FROM incidents;
	`
	var resolvedConfirmations int
	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalActive, &stats.ResolvedToday, &resolvedConfirmations)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident stats: %w", err)
	}
	// Каждый подтвердивший представляет примерно 50 затронутых жителей
	stats.CitizensHelped = resolvedConfirmations * 50
	return stats, nil
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id.String())
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID.String())
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, val, incidentCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("incident:%s", id.String())
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}
