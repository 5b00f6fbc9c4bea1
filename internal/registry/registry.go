// Package registry versions trained model artifacts. The record log is
// append-only; the active pointer per kind only ever moves to a version at
// least as accurate, trained against the current feature schema.
package registry

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/models"

	"github.com/oklog/ulid/v2"
)

const (
	registryLogName = "registry.json"
	activeName      = "active.json"
)

// Registry stores artifacts under dir/models/{kind}/{ulid}.bin, the version
// log in registry.json (one JSON record per line), and the active pointers in
// active.json.
type Registry struct {
	dir           string
	schemaVersion int

	mu      sync.Mutex
	records []models.ModelVersion
	active  map[models.ModelKind]string // kind -> file_id
}

// Open loads (or initializes) the registry rooted at dir.
func Open(dir string, schemaVersion int) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "creating registry dir")
	}

	r := &Registry{
		dir:           dir,
		schemaVersion: schemaVersion,
		active:        make(map[models.ModelKind]string),
	}
	if err := r.loadLog(); err != nil {
		return nil, err
	}
	if err := r.loadActive(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadLog() error {
	file, err := os.Open(filepath.Join(r.dir, registryLogName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return models.WrapAppError(models.KindStorageError, err, "opening registry log")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var mv models.ModelVersion
		if uerr := json.Unmarshal(line, &mv); uerr != nil {
			// A torn final line from a crash is tolerated; anything else
			// in the log is still immutable history.
			logger.S().Warnf("skipping unreadable registry record: %v", uerr)
			continue
		}
		r.records = append(r.records, mv)
	}
	return scanner.Err()
}

func (r *Registry) loadActive() error {
	data, err := os.ReadFile(filepath.Join(r.dir, activeName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return models.WrapAppError(models.KindStorageError, err, "reading active pointers")
	}
	if err := json.Unmarshal(data, &r.active); err != nil {
		return models.WrapAppError(models.KindStorageError, err, "parsing active pointers")
	}
	return nil
}

// Save writes the artifact bytes and appends the version record. It returns
// the generated file ID. Saving never touches the active pointer; promotion
// is a separate step.
func (r *Registry) Save(mv models.ModelVersion, artifact []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	mv.FileID = fileID

	kindDir := filepath.Join(r.dir, string(mv.Kind))
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return "", models.WrapAppError(models.KindStorageError, err, "creating artifact dir")
	}
	if err := os.WriteFile(filepath.Join(kindDir, fileID+".bin"), artifact, 0o644); err != nil {
		return "", models.WrapAppError(models.KindStorageError, err, "writing artifact")
	}

	if err := r.appendRecord(mv); err != nil {
		return "", err
	}
	r.records = append(r.records, mv)
	return fileID, nil
}

func (r *Registry) appendRecord(mv models.ModelVersion) error {
	data, err := json.Marshal(mv)
	if err != nil {
		return models.WrapAppError(models.KindStorageError, err, "encoding version record")
	}
	file, err := os.OpenFile(filepath.Join(r.dir, registryLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return models.WrapAppError(models.KindStorageError, err, "opening registry log for append")
	}
	defer file.Close()
	if _, err = file.Write(append(data, '\n')); err != nil {
		return models.WrapAppError(models.KindStorageError, err, "appending version record")
	}
	return nil
}

// List returns all recorded versions of the given kind, oldest first.
func (r *Registry) List(kind models.ModelKind) []models.ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.ModelVersion
	for _, mv := range r.records {
		if mv.Kind == kind {
			out = append(out, mv)
		}
	}
	return out
}

// ListAll returns every recorded version, oldest first.
func (r *Registry) ListAll() []models.ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ModelVersion, len(r.records))
	copy(out, r.records)
	return out
}

// GetActive returns the active version of kind. It returns nil when none is
// active or when the pointed-at version was trained against a feature schema
// other than the current one.
func (r *Registry) GetActive(kind models.ModelKind) *models.ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(kind)
}

func (r *Registry) activeLocked(kind models.ModelKind) *models.ModelVersion {
	fileID, ok := r.active[kind]
	if !ok {
		return nil
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Kind == kind && r.records[i].FileID == fileID {
			mv := r.records[i]
			if mv.SchemaVersion != r.schemaVersion {
				// Promoted before a schema bump; its inputs no longer line
				// up with the extractor, so it must not serve. The pointer
				// stays on disk in case the bump is rolled back.
				return nil
			}
			return &mv
		}
	}
	return nil
}

// LoadArtifact reads the stored artifact bytes for a version.
func (r *Registry) LoadArtifact(kind models.ModelKind, fileID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, string(kind), fileID+".bin"))
	if err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "reading artifact %s/%s", kind, fileID)
	}
	return data, nil
}

// Promote atomically makes fileID the active version of kind. The candidate
// is admitted only when its recorded accuracy does not regress below the
// current active's and it was trained against the current feature schema.
func (r *Registry) Promote(kind models.ModelKind, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidate *models.ModelVersion
	for i := range r.records {
		if r.records[i].Kind == kind && r.records[i].FileID == fileID {
			candidate = &r.records[i]
			break
		}
	}
	if candidate == nil {
		return models.NewAppError(models.KindUnknownKind, "no version %s recorded for kind %s", fileID, kind)
	}

	if candidate.SchemaVersion != r.schemaVersion {
		return models.NewAppError(models.KindSchemaMismatch,
			"candidate schema v%d, current v%d", candidate.SchemaVersion, r.schemaVersion)
	}
	if current := r.activeLocked(kind); current != nil && candidate.Accuracy < current.Accuracy {
		return models.NewAppError(models.KindRegressionBlocked,
			"candidate accuracy %.4f below active %.4f for %s", candidate.Accuracy, current.Accuracy, kind)
	}

	prev, hadPrev := r.active[kind]
	r.active[kind] = fileID
	if err := r.writeActiveLocked(); err != nil {
		if hadPrev {
			r.active[kind] = prev
		} else {
			delete(r.active, kind)
		}
		return err
	}
	logger.S().Infof("promoted %s version %s (accuracy %.4f)", kind, fileID, candidate.Accuracy)
	return nil
}

// writeActiveLocked persists the pointer map via write-temp-then-rename so a
// crash never leaves a torn active.json.
func (r *Registry) writeActiveLocked() error {
	data, err := json.MarshalIndent(r.active, "", "  ")
	if err != nil {
		return models.WrapAppError(models.KindStorageError, err, "encoding active pointers")
	}
	tmp := filepath.Join(r.dir, fmt.Sprintf(".%s.tmp", activeName))
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return models.WrapAppError(models.KindStorageError, err, "writing active pointers")
	}
	if err = os.Rename(tmp, filepath.Join(r.dir, activeName)); err != nil {
		return models.WrapAppError(models.KindStorageError, err, "replacing active pointers")
	}
	return nil
}
