package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

const schemaMigrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationFilePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned schema script.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// ParseMigrations reads NNNN_name.sql files from dir in fsys, substitutes
// the project and dataset placeholders, and sorts them by version. The
// checksum covers the file before substitution.
func ParseMigrations(fsys fs.FS, dir string, dataset Dataset) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("ParseMigrations: reading %s: %w", dir, err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("ParseMigrations: version in %s: %w", e.Name(), err)
		}

		content, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("ParseMigrations: reading %s: %w", e.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", dataset.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", dataset.DatasetID)

		out = append(out, Migration{
			Version:  version,
			Name:     m[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies the embedded schema migrations that are not yet recorded
// in schema_migrations and returns how many ran.
func (r *Repository) Migrate(ctx context.Context, appliedBy string, log zerolog.Logger) (int, error) {
	if err := r.ensureSchemaMigrations(ctx); err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	migrations, err := ParseMigrations(migrationsFS, "migrations", r.dataset)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("migration already applied")
			continue
		}

		if _, err := runDML(ctx, r.client.Query(m.SQL)); err != nil {
			return count, fmt.Errorf("Migrate: %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := r.recordMigration(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("Migrate: recording %04d_%s: %w", m.Version, m.Name, err)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
		count++
	}
	return count, nil
}

func (r *Repository) ensureSchemaMigrations(ctx context.Context) error {
	q := r.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, r.dataset.Table(schemaMigrationsTable)))

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ensureSchemaMigrations: %w", err)
	}
	return nil
}

func (r *Repository) appliedVersions(ctx context.Context) (map[int]bool, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT version
		FROM %s
	`, r.dataset.Table(schemaMigrationsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("appliedVersions: query.Read: %w", err)
	}

	out := make(map[int]bool)
	for {
		var row struct {
			Version int64 `bigquery:"version"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("appliedVersions: iterating rows: %w", err)
		}
		out[int(row.Version)] = true
	}
	return out, nil
}

func (r *Repository) recordMigration(ctx context.Context, m Migration, appliedBy string) error {
	q := r.client.Query(fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, r.dataset.Table(schemaMigrationsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}

	_, err := runDML(ctx, q)
	return err
}
