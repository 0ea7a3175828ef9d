// Package process implements the paginate subcommand: it feeds documents from
// files, directories or archives through the pagination engine and writes the
// results out.
package process

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/natural"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"repage/archive"
	"repage/config"
	"repage/dom"
	"repage/measure"
	"repage/paginate"
	"repage/state"
	"repage/store"
)

func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("paginate")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}
	src, err = filepath.Abs(src)
	if err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	format, err := config.ParseOutputFmt(cmd.String("to"))
	if err != nil {
		log.Warn("Unknown output format requested, switching to html", zap.Error(err))
		format = config.OutputFmtHTML
	}
	env.OutputFormat = format

	env.NoDirs, env.Overwrite = cmd.Bool("nodirs"), cmd.Bool("overwrite")

	if path := cmd.String("store"); len(path) > 0 {
		env.Cfg.Document.Store.Path = path
	}

	// Since zip "standard" does not define file name encoding we may need to
	// force archaic code page for old archives
	cp := cmd.String("force-zip-cp")
	if len(cp) > 0 {
		env.CodePage, err = ianaindex.IANA.Encoding(cp)
		if err != nil {
			log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
			env.CodePage = nil
		} else {
			n, _ := ianaindex.IANA.Name(env.CodePage)
			log.Debug("Forcefully converting all non UTF-8 file names in archives", zap.String("charset", n))
		}
	}

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst), zap.Stringer("format", format))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return process(ctx, src, dst, log)
}

// process handles the core pagination logic independently of CLI framework.
// It determines the input type (directory, archive, or single file) and
// processes accordingly.
func process(ctx context.Context, src, dst string, log *zap.Logger) (err error) {
	env := state.EnvFromContext(ctx)

	var db *store.Store
	if path := env.Cfg.Document.Store.Path; len(path) > 0 {
		if db, err = store.Open(path, log); err != nil {
			return fmt.Errorf("unable to open document store: %w", err)
		}
		defer func() {
			err = multierr.Append(err, db.Close())
		}()
	}

	sink, err := newSink(ctx, dst, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sink.Close())
	}()

	var head, tail string
	for head = src; len(head) != 0; head, tail = filepath.Split(head) {
		if err := ctx.Err(); err != nil {
			return err
		}

		head = strings.TrimSuffix(head, string(filepath.Separator))

		fi, err := os.Stat(head)
		if err != nil {
			// does not exists - probably path in archive
			continue
		}

		if fi.Mode().IsDir() {
			if len(tail) != 0 {
				// directory cannot have tail - it would be simple file
				return fmt.Errorf("input source was not found (%s) => (%s)", head, strings.TrimPrefix(src, head))
			}
			if err := processDir(ctx, head, sink, db, log); err != nil {
				return fmt.Errorf("unable to process directory: %w", err)
			}
			break
		}

		if !fi.Mode().IsRegular() {
			return fmt.Errorf("unexpected path mode for (%s) => (%s)", head, strings.TrimPrefix(src, head))
		}

		if isArchiveFile(head) {
			// we need to look inside to see if path makes sense
			tail = strings.TrimPrefix(strings.TrimPrefix(src, head), string(filepath.Separator))
			if err := processArchive(ctx, head, tail, "", sink, db, log); err != nil {
				return fmt.Errorf("unable to process archive: %w", err)
			}
			break
		}

		if isDocumentFile(head) && len(tail) == 0 {
			file, err := os.Open(head)
			if err != nil {
				log.Error("Unable to process file", zap.String("file", head), zap.Error(err))
				break
			}
			defer file.Close()
			if err := processDocument(ctx, file, filepath.Base(head), filepath.Dir(head), sink, db, log); err != nil {
				log.Error("Unable to process file", zap.String("file", head), zap.Error(err))
			}
			break
		}
		return fmt.Errorf("input was not recognized as a document (%s)", head)
	}
	if len(head) == 0 {
		return fmt.Errorf("input source was not found (%s)", src)
	}
	return nil
}

// processDir collects document files under the directory and processes them
// in natural name order, so "page9.html" sorts before "page10.html".
func processDir(ctx context.Context, dir string, sink outputSink, db *store.Store, log *zap.Logger) error {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			log.Warn("Skipping path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if isArchiveFile(path) || isDocumentFile(path) {
			files = append(files, path)
			return nil
		}
		log.Debug("Skipping file, not recognized as document or archive", zap.String("file", path))
		return nil
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Debug("Nothing to process", zap.String("dir", dir))
		return nil
	}
	sort.Sort(natural.StringSlice(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isArchiveFile(path) {
			if err := processArchive(ctx, path, "", filepath.Dir(strings.TrimPrefix(path, dir)), sink, db, log); err != nil {
				log.Error("Unable to process archive", zap.String("file", path), zap.Error(err))
			}
			continue
		}
		file, err := os.Open(path)
		if err != nil {
			log.Error("Unable to process file", zap.String("file", path), zap.Error(err))
			continue
		}
		src := strings.TrimPrefix(strings.TrimPrefix(path, dir), string(filepath.Separator))
		if err := processDocument(ctx, file, src, filepath.Dir(path), sink, db, log); err != nil {
			log.Error("Unable to process file", zap.String("file", path), zap.Error(err))
		}
		file.Close()
	}
	return nil
}

// processArchive walks all files inside archive, finds documents under
// "pathIn" and processes them.
func processArchive(ctx context.Context, path, pathIn, pathOut string, sink outputSink, db *store.Store, log *zap.Logger) (err error) {
	count := 0
	defer func() {
		if err == nil && count == 0 {
			log.Debug("Nothing to process", zap.String("archive", path))
		}
	}()

	err = archive.Walk(ctx, path, pathIn, func(archive string, f *zip.File) error {
		if !isDocumentName(f.FileHeader.Name) {
			log.Debug("Skipping file, not recognized as document", zap.String("archive", archive), zap.String("file", f.FileHeader.Name))
			return nil
		}

		count++

		r, err := f.Open()
		if err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", archive), zap.String("file", f.FileHeader.Name), zap.Error(err))
			return nil
		}
		defer r.Close()

		cp := state.EnvFromContext(ctx).CodePage

		pathInArchive := f.FileHeader.Name
		if cp != nil && f.FileHeader.NonUTF8 {
			// forcing zip file name encoding
			if n, err := cp.NewDecoder().String(pathInArchive); err == nil {
				pathInArchive = n
			} else {
				n, _ = ianaindex.IANA.Name(cp)
				log.Warn("Unable to convert archive name from specified encoding",
					zap.String("charset", n), zap.String("path", pathInArchive), zap.Error(err))
			}
		}
		if err := processDocument(ctx, r, filepath.Join(pathOut, pathInArchive), "", sink, db, log); err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", archive), zap.String("file", f.FileHeader.Name), zap.Error(err))
		}
		return nil
	})
	return err
}

// processDocument paginates a single document. "src" is part of the source
// path (always including file name) relative to the original path. "baseDir"
// is where relative image references resolve from, empty when the source came
// out of an archive.
func processDocument(ctx context.Context, r io.Reader, src, baseDir string, sink outputSink, db *store.Store, log *zap.Logger) (rerr error) {
	env := state.EnvFromContext(ctx)

	var outputName string

	log.Info("Pagination starting", zap.String("from", src))
	defer func(start time.Time) {
		// NOTE: image decoding libraries are not always mature, if multiple
		// documents are being processed we do not want to stop.
		if r := recover(); r != nil {
			log.Error("Pagination ended with panic",
				zap.Any("panic", r), zap.Duration("elapsed", time.Since(start)), zap.String("to", outputName), zap.ByteString("stack", debug.Stack()))
			rerr = fmt.Errorf("pagination panic: %v", r)
		} else {
			log.Info("Pagination completed", zap.Duration("elapsed", time.Since(start)), zap.String("to", outputName))
		}
	}(time.Now())

	doc, err := dom.Load(r)
	if err != nil {
		return fmt.Errorf("unable to parse document source (%s): %w", src, err)
	}
	dom.Normalize(doc, log)

	if doc.FixedLayout() {
		log.Info("Document has fixed layout, passing through unpaginated", zap.String("from", src))
	} else {
		est := measure.NewEstimator(estimatorOptions(env.Cfg, baseDir), log)
		engine := paginate.New(est, log, paginate.WithNotifier(func(n paginate.Notification) {
			log.Debug("Page count changed", zap.Int("current", n.CurrentPage), zap.Int("total", n.TotalPages))
		}))
		if _, err := engine.Run(doc, ""); err != nil {
			return fmt.Errorf("unable to paginate document (%s): %w", src, err)
		}
	}

	outputName = buildOutputPath(doc, src, env)

	var sb strings.Builder
	if err := doc.WriteTo(&sb); err != nil {
		return fmt.Errorf("unable to serialize document (%s): %w", src, err)
	}
	data := []byte(sb.String())

	where, err := sink.Write(outputName, data)
	if err != nil {
		return err
	}
	outputName = where

	if db != nil {
		title := doc.Title()
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		}
		if _, err := db.Save(documentID(src), title, doc); err != nil {
			return fmt.Errorf("unable to store document (%s): %w", src, err)
		}
	}

	// Store paginated result and its page outline for debugging
	if env.Rpt != nil {
		env.Rpt.StoreData(fmt.Sprintf("paginated/%s", filepath.Base(outputName)), data)
		env.Rpt.StoreData(fmt.Sprintf("paginated/%s.outline", filepath.Base(outputName)), []byte(documentOutline(doc)))
	}
	return nil
}

// documentID derives a stable document id from the source path, so repeated
// runs version the same store row rather than creating new documents.
func documentID(src string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("repage:"+filepath.ToSlash(src))).String()
}

func estimatorOptions(cfg *config.Config, baseDir string) measure.EstimatorOptions {
	opt := measure.EstimatorOptions{
		CapacityPx:     cfg.Document.Page.CapacityPx,
		PageWidthPx:    cfg.Document.Page.WidthPx,
		LineHeightPx:   cfg.Document.Page.LineHeightPx,
		CharsPerLine:   cfg.Document.Page.CharsPerLine,
		BlockSpacingPx: cfg.Document.Page.BlockSpacingPx,
	}
	if baseDir != "" {
		opt.Resolve = func(href string) ([]byte, error) {
			if filepath.IsAbs(href) || strings.Contains(href, "://") {
				return nil, nil
			}
			return os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(href)))
		}
	}
	return opt
}

// isArchiveFile sniffs for the zip magic.
func isArchiveFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic[0] == 'P' && magic[1] == 'K' && magic[2] == 3 && magic[3] == 4
}

func isDocumentFile(path string) bool {
	return isDocumentName(path)
}

func isDocumentName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".xhtml", ".htm":
		return true
	}
	return false
}
