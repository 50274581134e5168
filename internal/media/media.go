// Package media validates and stores uploaded subjects (images and video
// clips) and produces the subject references the dialogue layer works with.
package media

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// DefaultMaxBytes caps uploads when no limit is configured.
const DefaultMaxBytes = 25 << 20

// kindByExt is the upload allow-list. Extensions outside it are rejected
// before any bytes are read.
var kindByExt = map[string]session.SubjectKind{
	".jpg":  session.SubjectImage,
	".jpeg": session.SubjectImage,
	".png":  session.SubjectImage,
	".webp": session.SubjectImage,
	".gif":  session.SubjectImage,
	".mp4":  session.SubjectVideo,
	".mov":  session.SubjectVideo,
}

// mimePrefixByKind pins sniffed content types to the extension's family.
var mimePrefixByKind = map[session.SubjectKind]string{
	session.SubjectImage: "image/",
	session.SubjectVideo: "video/",
}

// Store persists uploads under a single directory with randomized names, so
// client-supplied filenames never touch the filesystem.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Save validates a multipart upload and writes it to disk, returning a
// subject reference. Validation failures carry the validation kind; disk
// trouble is reported as-is.
func (s *Store) Save(fh *multipart.FileHeader) (session.SubjectRef, error) {
	var ref session.SubjectRef

	if fh == nil {
		return ref, errs.New(errs.KindValidation, "no file uploaded")
	}
	if fh.Size > s.maxBytes {
		return ref, errs.Newf(errs.KindValidation, "file exceeds %d byte limit", s.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	kind, ok := kindByExt[ext]
	if !ok {
		return ref, errs.Newf(errs.KindValidation, "unsupported file type %q", ext)
	}

	src, err := fh.Open()
	if err != nil {
		return ref, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	// Read through a hard limit in case the reported size lied.
	data, err := io.ReadAll(io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return ref, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return ref, errs.Newf(errs.KindValidation, "file exceeds %d byte limit", s.maxBytes)
	}
	if len(data) == 0 {
		return ref, errs.New(errs.KindValidation, "uploaded file is empty")
	}

	// The sniffed type must agree with the extension's family, so a
	// renamed executable cannot pass as a photo.
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), mimePrefixByKind[kind]) {
		return ref, errs.Newf(errs.KindValidation, "file content (%s) does not match extension %q", mtype.String(), ext)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ref, fmt.Errorf("write upload: %w", err)
	}

	sum := sha1.Sum(data)
	return session.SubjectRef{
		ID:        id.NewSubjectID(),
		Path:      path,
		MIME:      mtype.String(),
		Kind:      kind,
		Signature: hex.EncodeToString(sum[:]),
	}, nil
}

// Remove deletes a stored subject's file. Missing files are fine.
func (s *Store) Remove(ref session.SubjectRef) error {
	if ref.Path == "" {
		return nil
	}
	if filepath.Dir(ref.Path) != filepath.Clean(s.dir) {
		return errs.Newf(errs.KindValidation, "path %q is outside the upload dir", ref.Path)
	}
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }
