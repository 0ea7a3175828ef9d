package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"repage/state"
	"repage/store"
)

// Versions lists stored versions of a document previously paginated with the
// store enabled.
func Versions(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}

	if path := cmd.String("store"); len(path) > 0 {
		env.Cfg.Document.Store.Path = path
	}
	path := env.Cfg.Document.Store.Path
	if len(path) == 0 {
		return errors.New("no document store has been configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("unable to access document store (%s): %w", path, err)
	}

	db, err := store.Open(path, env.Log)
	if err != nil {
		return fmt.Errorf("unable to open document store: %w", err)
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	// sources are stored under path-derived ids, a document processed as a
	// single file was keyed by its base name
	versions, err := db.Versions(documentID(src))
	if err != nil {
		return err
	}
	if len(versions) == 0 && src != filepath.Base(src) {
		if versions, err = db.Versions(documentID(filepath.Base(src))); err != nil {
			return err
		}
	}
	if len(versions) == 0 {
		return fmt.Errorf("no stored versions found for (%s)", src)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tPAGES\tCREATED\tHASH")
	for _, v := range versions {
		created := ""
		if !v.CreatedAt.IsZero() {
			created = v.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%.12s\n", v.VersionNo, v.Pages, created, v.Hash)
	}
	return w.Flush()
}
