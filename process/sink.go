package process

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"repage/state"
)

// outputSink hides the difference between writing paginated documents as
// plain files under the destination directory and packing them into a single
// zip bundle. Write returns the final location for logging.
type outputSink interface {
	Write(relName string, data []byte) (string, error)
	Close() error
}

func newSink(ctx context.Context, dst string, log *zap.Logger) (outputSink, error) {
	env := state.EnvFromContext(ctx)
	if !env.OutputFormat.Bundled() {
		return &fileSink{dst: dst, overwrite: env.Overwrite, log: log}, nil
	}
	return newBundleSink(dst, env, log)
}

type fileSink struct {
	dst       string
	overwrite bool
	log       *zap.Logger
}

func (s *fileSink) Write(relName string, data []byte) (string, error) {
	final := filepath.Join(s.dst, relName)
	if _, err := os.Stat(final); err == nil {
		if !s.overwrite {
			return "", fmt.Errorf("output file already exists (%s), use overwrite flag", final)
		}
		s.log.Debug("Overwriting existing file", zap.String("file", final))
	}
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := os.WriteFile(final, data, 0644); err != nil {
		return "", fmt.Errorf("unable to write output file (%s): %w", final, err)
	}
	return final, nil
}

func (s *fileSink) Close() error { return nil }

// bundleSink accumulates entries in a temporary zip next to the final
// destination and moves it in place on Close. When fix_zip is configured the
// final copy drops data descriptors, some readers cannot handle them.
type bundleSink struct {
	path   string
	tmp    *os.File
	zw     *zip.Writer
	fixZip bool
	seen   map[string]struct{}
	log    *zap.Logger
}

func newBundleSink(dst string, env *state.LocalEnv, log *zap.Logger) (*bundleSink, error) {
	path := dst
	if fi, err := os.Stat(dst); (err == nil && fi.IsDir()) || !strings.EqualFold(filepath.Ext(dst), env.OutputFormat.Ext()) {
		path = filepath.Join(dst, "repage-output"+env.OutputFormat.Ext())
	}
	if _, err := os.Stat(path); err == nil && !env.Overwrite {
		return nil, fmt.Errorf("output bundle already exists (%s), use overwrite flag", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".repage-bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary bundle: %w", err)
	}
	return &bundleSink{
		path:   path,
		tmp:    tmp,
		zw:     zip.NewWriter(tmp),
		fixZip: env.Cfg.Document.FixZip,
		seen:   make(map[string]struct{}),
		log:    log,
	}, nil
}

func (s *bundleSink) Write(relName string, data []byte) (string, error) {
	name := filepath.ToSlash(relName)
	if _, dup := s.seen[name]; dup {
		return "", fmt.Errorf("duplicate bundle entry (%s)", name)
	}
	s.seen[name] = struct{}{}

	w, err := s.zw.Create(name)
	if err != nil {
		return "", fmt.Errorf("unable to create bundle entry (%s): %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("unable to write bundle entry (%s): %w", name, err)
	}
	return s.path + "!" + name, nil
}

func (s *bundleSink) Close() (err error) {
	tmpName := s.tmp.Name()
	defer os.Remove(tmpName)

	err = multierr.Append(err, s.zw.Close())
	err = multierr.Append(err, s.tmp.Close())
	if err != nil {
		return fmt.Errorf("unable to finalize bundle: %w", err)
	}

	if len(s.seen) == 0 {
		s.log.Debug("No documents were bundled, not creating output", zap.String("file", s.path))
		return nil
	}

	if s.fixZip {
		return copyZipWithoutDataDescriptors(tmpName, s.path)
	}
	return copyFile(tmpName, s.path)
}

func copyZipWithoutDataDescriptors(from, to string) error {

	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create file (%s): %w", to, err)
	}
	defer out.Close()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	defer w.Close()

	for _, file := range r.File {
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		// copy zip entry
		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to copy archive entry (%s): %w", file.Name, err)
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("unable to open file (%s): %w", from, err)
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create file (%s): %w", to, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("unable to copy file (%s): %w", to, err)
	}
	return out.Sync()
}
