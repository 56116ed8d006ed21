package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnhub-media/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPostgresUnavailable is returned when the repository has no live pool.
var ErrPostgresUnavailable = errors.New("postgres repository unavailable")

const assetColumns = `id, owner_user_id, original_filename, mime_type, size_bytes,
	storage_provider, storage_bucket, storage_key, public_url, status, versions,
	created_at, updated_at`

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed asset repository. Migrations
// run first when WithMigrations(true) is supplied; otherwise the caller must
// have applied them.
func NewPostgresRepository(dsn string, opts ...Option) (AssetRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if cfg.RunMigrations {
		if err := migratePool(ctx, pool, MigrateUp); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// statementContext bounds a single repository call by the acquire timeout.
func (r *postgresRepository) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AcquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.AcquireTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return models.VideoAsset{}, ErrPostgresUnavailable
	}
	if strings.TrimSpace(params.StorageKey) == "" {
		return models.VideoAsset{}, fmt.Errorf("storage key required")
	}
	status := params.Status
	if status == "" {
		status = models.AssetStatusUploading
	}
	now := r.cfg.Clock()

	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `INSERT INTO video_assets
		(owner_user_id, original_filename, mime_type, size_bytes, storage_provider,
		 storage_bucket, storage_key, public_url, status, versions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, '[]'::jsonb, $9, $9)
		RETURNING `+assetColumns,
		params.OwnerUserID, params.OriginalFilename, params.MimeType, params.SizeBytes,
		params.StorageProvider, params.StorageBucket, params.StorageKey, string(status), now,
	)
	asset, err := scanAsset(row)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("insert video asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) GetAsset(ctx context.Context, id int64) (models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return models.VideoAsset{}, ErrPostgresUnavailable
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = $1`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("load video asset %d: %w", id, err)
	}
	return asset, nil
}

func (r *postgresRepository) GetAssetByStorageKey(ctx context.Context, storageKey string) (models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return models.VideoAsset{}, ErrPostgresUnavailable
	}
	key := strings.Trim(strings.TrimSpace(storageKey), "/")
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE storage_key = $1`, key)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, fmt.Errorf("asset with key %s: %w", key, ErrAssetNotFound)
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("load video asset by key: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) ListAssets(ctx context.Context, ownerUserID int64, limit int) ([]models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+assetColumns+` FROM video_assets
		WHERE ($1::bigint < 0 OR owner_user_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, ownerUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list video assets: %w", err)
	}
	return collectAssets(rows)
}

func (r *postgresRepository) UpdateAsset(ctx context.Context, id int64, update AssetUpdate) (models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return models.VideoAsset{}, ErrPostgresUnavailable
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("begin asset update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = $1 FOR UPDATE`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("lock video asset %d: %w", id, err)
	}

	applyAssetUpdate(&asset, update)
	versions, err := encodeVersions(asset.Versions)
	if err != nil {
		return models.VideoAsset{}, err
	}
	row = tx.QueryRow(ctx, `UPDATE video_assets SET
		owner_user_id = $2, original_filename = $3, mime_type = $4, size_bytes = $5,
		storage_provider = $6, storage_bucket = $7, public_url = $8, status = $9,
		versions = $10::jsonb, updated_at = $11
		WHERE id = $1
		RETURNING `+assetColumns,
		id, asset.OwnerUserID, asset.OriginalFilename, asset.MimeType, asset.SizeBytes,
		asset.StorageProvider, asset.StorageBucket, asset.PublicURL, string(asset.Status),
		versions, r.cfg.Clock(),
	)
	updated, err := scanAsset(row)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("update video asset %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.VideoAsset{}, fmt.Errorf("commit asset update: %w", err)
	}
	return updated, nil
}

func (r *postgresRepository) ClaimAsset(ctx context.Context, id int64, from, to models.AssetStatus) (models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return models.VideoAsset{}, ErrPostgresUnavailable
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `UPDATE video_assets SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+assetColumns, id, string(from), string(to), r.cfg.Clock())
	asset, err := scanAsset(row)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, fmt.Errorf("claim video asset %d: %w", id, err)
	}

	current, lookupErr := r.GetAsset(ctx, id)
	if lookupErr != nil {
		return models.VideoAsset{}, lookupErr
	}
	return current, fmt.Errorf("asset %d is %s: %w", id, current.Status, ErrStatusConflict)
}

func (r *postgresRepository) DeleteAsset(ctx context.Context, id int64) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM video_assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video asset %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	return nil
}

func (r *postgresRepository) ListStaleAssets(ctx context.Context, statuses []models.AssetStatus, cutoff time.Time, limit int) ([]models.VideoAsset, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	ctx, cancel := r.statementContext(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+assetColumns+` FROM video_assets
		WHERE status = ANY($1)
		  AND (CASE WHEN status = 'PROCESSING' THEN updated_at ELSE created_at END) < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`, statusStrings(statuses), cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale video assets: %w", err)
	}
	return collectAssets(rows)
}

func collectAssets(rows pgx.Rows) ([]models.VideoAsset, error) {
	defer rows.Close()
	assets := make([]models.VideoAsset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate video assets: %w", err)
	}
	return assets, nil
}

func scanAsset(row pgx.Row) (models.VideoAsset, error) {
	var (
		asset    models.VideoAsset
		status   string
		versions []byte
	)
	if err := row.Scan(
		&asset.ID,
		&asset.OwnerUserID,
		&asset.OriginalFilename,
		&asset.MimeType,
		&asset.SizeBytes,
		&asset.StorageProvider,
		&asset.StorageBucket,
		&asset.StorageKey,
		&asset.PublicURL,
		&status,
		&versions,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	); err != nil {
		return models.VideoAsset{}, err
	}
	parsed, ok := models.ParseAssetStatus(status)
	if !ok {
		return models.VideoAsset{}, fmt.Errorf("unknown asset status %q", status)
	}
	asset.Status = parsed
	if len(versions) > 0 {
		if err := json.Unmarshal(versions, &asset.Versions); err != nil {
			return models.VideoAsset{}, fmt.Errorf("decode versions: %w", err)
		}
		if len(asset.Versions) == 0 {
			asset.Versions = nil
		}
	}
	asset.CreatedAt = asset.CreatedAt.UTC()
	asset.UpdatedAt = asset.UpdatedAt.UTC()
	return asset, nil
}

func encodeVersions(versions []models.VideoVersion) (string, error) {
	if len(versions) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(versions)
	if err != nil {
		return "", fmt.Errorf("encode versions: %w", err)
	}
	return string(encoded), nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
