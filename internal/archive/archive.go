// Package archive copies whole graphs between a store and a blob store.
// Backups are XML documents keyed by store id and creation time, so a plain
// key listing is already in chronological order.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"worktally/internal/blob"
	"worktally/internal/infra/persistence/xmlfile"
	"worktally/internal/session"
)

const (
	keyRoot     = "backups"
	stampLayout = "20060102T150405.000000000Z"
	contentType = "application/xml"

	metaStoreID = "store-id"
	metaObjects = "objects"
	metaNextOID = "next-oid"
)

// ErrNoBackups is returned by Latest when a store has never been backed up.
var ErrNoBackups = errors.New("archive: no backups")

// Backup describes one stored archive.
type Backup struct {
	Key     string
	StoreID string
	Created time.Time
	Size    int64
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger; the default discards.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock replaces time.Now for key stamps.
func WithClock(now func() time.Time) Option { return func(a *Archive) { a.now = now } }

// Archive is safe for concurrent use when its blob store is.
type Archive struct {
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

// New wraps blobs.
func New(blobs blob.Store, opts ...Option) *Archive {
	a := &Archive{
		blobs:  blobs,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Backup exports the session's store and writes it as a new blob. The
// session needs backup rights; access errors come back unchanged.
func (a *Archive) Backup(ctx context.Context, s *session.Session) (Backup, error) {
	g, err := s.Export(ctx)
	if err != nil {
		return Backup{}, err
	}
	var buf bytes.Buffer
	if err := xmlfile.Encode(&buf, g); err != nil {
		return Backup{}, fmt.Errorf("archive: encode: %w", err)
	}
	created := a.now().UTC()
	key := backupKey(s.StoreID(), created)
	info, err := a.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaStoreID: s.StoreID(),
			metaObjects: strconv.Itoa(len(g.Records)),
			metaNextOID: g.NextOID.String(),
		},
	})
	if err != nil {
		return Backup{}, fmt.Errorf("archive: write %s: %w", key, err)
	}
	a.logger.Info("backup written", "key", key, "objects", len(g.Records), "bytes", info.Size, "driver", a.blobs.Driver())
	return Backup{Key: key, StoreID: s.StoreID(), Created: created, Size: info.Size}, nil
}

// List returns the backups of storeID, oldest first.
func (a *Archive) List(ctx context.Context, storeID string) ([]Backup, error) {
	if storeID == "" || strings.Contains(storeID, "/") {
		return nil, fmt.Errorf("archive: invalid store id %q", storeID)
	}
	infos, err := a.blobs.List(ctx, keyRoot+"/"+storeID+"/")
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	out := make([]Backup, 0, len(infos))
	for _, info := range infos {
		b, ok := parseKey(info.Key)
		if !ok || b.StoreID != storeID {
			a.logger.Warn("skipping foreign blob in backup area", "key", info.Key)
			continue
		}
		b.Size = info.Size
		out = append(out, b)
	}
	slices.SortFunc(out, func(x, y Backup) int { return x.Created.Compare(y.Created) })
	return out, nil
}

// Latest returns the newest backup of storeID.
func (a *Archive) Latest(ctx context.Context, storeID string) (Backup, error) {
	list, err := a.List(ctx, storeID)
	if err != nil {
		return Backup{}, err
	}
	if len(list) == 0 {
		return Backup{}, fmt.Errorf("%w for store %s", ErrNoBackups, storeID)
	}
	return list[len(list)-1], nil
}

// Restore loads the backup at key into the session's store, which must be
// empty and opened with restore credentials.
func (a *Archive) Restore(ctx context.Context, s *session.Session, key string) error {
	_, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("archive: read %s: %w", key, err)
	}
	defer rc.Close()
	g, err := xmlfile.Decode(rc)
	if err != nil {
		return fmt.Errorf("archive: decode %s: %w", key, err)
	}
	if err := s.Restore(ctx, g); err != nil {
		return err
	}
	a.logger.Info("backup restored", "key", key, "objects", len(g.Records), "store", s.StoreID())
	return nil
}

// Fetch copies the raw document at key to w.
func (a *Archive) Fetch(ctx context.Context, key string, w io.Writer) error {
	_, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("archive: read %s: %w", key, err)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// Prune deletes all but the newest keep backups of storeID and reports how
// many went.
func (a *Archive) Prune(ctx context.Context, storeID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("archive: keep must not be negative")
	}
	list, err := a.List(ctx, storeID)
	if err != nil || len(list) <= keep {
		return 0, err
	}
	removed := 0
	for _, b := range list[:len(list)-keep] {
		ok, err := a.blobs.Delete(ctx, b.Key)
		if err != nil {
			return removed, fmt.Errorf("archive: delete %s: %w", b.Key, err)
		}
		if ok {
			removed++
		}
	}
	a.logger.Info("backups pruned", "store", storeID, "removed", removed, "kept", keep)
	return removed, nil
}

func backupKey(storeID string, created time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.xml", keyRoot, storeID, created.Format(stampLayout), uuid.NewString())
}

// parseKey reverses backupKey.
func parseKey(key string) (Backup, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != keyRoot || !strings.HasSuffix(parts[2], ".xml") {
		return Backup{}, false
	}
	name := strings.TrimSuffix(parts[2], ".xml")
	stamp, id, ok := strings.Cut(name, "-")
	if !ok || uuid.Validate(id) != nil {
		return Backup{}, false
	}
	created, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return Backup{}, false
	}
	return Backup{Key: key, StoreID: parts[1], Created: created}, true
}
