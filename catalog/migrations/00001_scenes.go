package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(Up00001, Down00001)
}

// Up00001 creates the scene cache table.
func Up00001(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS public.scenes
	(
		collection text NOT NULL,
		id text NOT NULL,
		item jsonb NOT NULL,
		acquired timestamp with time zone,
		cloud_cover real,
		fetched_at timestamp with time zone NOT NULL DEFAULT now(),
		CONSTRAINT scenes_pk PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_scenes_acquired
	ON public.scenes (collection, acquired);
	`)
	return err
}

func Down00001(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS public.scenes;`)
	return err
}
