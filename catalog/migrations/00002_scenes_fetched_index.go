package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(Up00002, Down00002)
}

// Up00002 indexes fetched_at so stale cache rows can be pruned.
func Up00002(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scenes_fetched_at ON public.scenes (fetched_at);`)
	return err
}

func Down00002(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP INDEX IF EXISTS public.idx_scenes_fetched_at;`)
	return err
}
