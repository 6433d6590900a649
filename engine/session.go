package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/store"
)

const sessionKeyPrefix = "sessions/"

// sessionKey matches SPEC_FULL.md §3.F's resolved open question: a
// session is addressed by its file's fingerprint, not a random session
// id, so a second process can resume it after a crash without first
// recovering the session id from anywhere.
func sessionKey(fileFingerprint string) string {
	return sessionKeyPrefix + fileFingerprint
}

// Status is the upload lifecycle state machine (spec §4.F):
// new -> probing -> (dedup-hit -> done) | uploading <-> paused -> merging
// -> done; any state -> failed on exhausted retries; any state ->
// cancelled on external signal. The engine never assigns Probing: it runs
// the dedup precheck before any session row exists, and a dedup hit
// returns without writing a row, so no Done row records it either.
type Status uint8

var EStatus = Status(0)

func (Status) New() Status       { return Status(0) }
func (Status) Probing() Status   { return Status(1) }
func (Status) Uploading() Status { return Status(2) }
func (Status) Paused() Status    { return Status(3) }
func (Status) Merging() Status   { return Status(4) }
func (Status) Done() Status      { return Status(5) }
func (Status) Failed() Status    { return Status(6) }
func (Status) Cancelled() Status { return Status(7) }

func (s Status) String() string { return common.EnumString(s) }

// ChunkStatus is one chunk row's own small state machine.
type ChunkStatus uint8

var EChunkStatus = ChunkStatus(0)

func (ChunkStatus) Pending() ChunkStatus  { return ChunkStatus(0) }
func (ChunkStatus) Uploaded() ChunkStatus { return ChunkStatus(1) }
func (ChunkStatus) Failed() ChunkStatus   { return ChunkStatus(2) }

func (s ChunkStatus) String() string { return common.EnumString(s) }

// ChunkState tracks one chunk's upload progress within a Session.
type ChunkState struct {
	Index    int         `json:"index"`
	Start    int64       `json:"start"`
	End      int64       `json:"end"`
	Status   ChunkStatus `json:"status"`
	Attempts int         `json:"attempts"`
}

// Session is the persisted upload session row (spec §4.F, §5: "Within
// one session: persisted state transitions are linearizable").
type Session struct {
	SessionID       string       `json:"sessionId"`
	FileFingerprint string       `json:"fileFingerprint"`
	FileName        string       `json:"fileName"`
	FileSize        int64        `json:"fileSize"`
	FileType        string       `json:"fileType"`
	ChunkSize       int64        `json:"chunkSize"`
	Chunks          []ChunkState `json:"chunks"`
	Status          Status       `json:"status"`
	URL             string       `json:"url,omitempty"`
	EndpointID      string       `json:"endpointId,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func newSession(fingerprint, fileName string, fileSize int64, fileType string, chunks []ChunkState, chunkSize int64) *Session {
	now := time.Now()
	return &Session{
		SessionID:       uuid.NewString(),
		FileFingerprint: fingerprint,
		FileName:        fileName,
		FileSize:        fileSize,
		FileType:        fileType,
		ChunkSize:       chunkSize,
		Chunks:          chunks,
		Status:          EStatus.New(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Session) uploadedBytes() int64 {
	var total int64
	for _, c := range s.Chunks {
		if c.Status == EChunkStatus.Uploaded() {
			total += c.End - c.Start
		}
	}
	return total
}

func (s *Session) percentComplete() float64 {
	if s.FileSize == 0 {
		if s.Status == EStatus.Done() {
			return 100
		}
		return 0
	}
	return float64(s.uploadedBytes()) / float64(s.FileSize) * 100
}

// UploadedBytes exposes uploadedBytes for hosts reporting progress
// without driving an upload themselves (the CLI's status command).
func (s *Session) UploadedBytes() int64 { return s.uploadedBytes() }

// PercentComplete exposes percentComplete, see UploadedBytes.
func (s *Session) PercentComplete() float64 { return s.percentComplete() }

func (s *Session) pendingIndices() []int {
	var pending []int
	for _, c := range s.Chunks {
		if c.Status != EChunkStatus.Uploaded() {
			pending = append(pending, c.Index)
		}
	}
	return pending
}

// sessionStore persists Session rows through the Persistent Store
// module, the way azcopy persists job-part-plan rows to local disk.
type sessionStore struct {
	st *store.Store
}

func newSessionStore(st *store.Store) *sessionStore {
	return &sessionStore{st: st}
}

func (ss *sessionStore) load(fingerprint string) (*Session, error) {
	raw, err := ss.st.Get(sessionKey(fingerprint))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, common.NewError(common.ECode.Corrupt(), "corrupt session row", err)
	}
	return &s, nil
}

// save persists s atomically: the whole row is written in one Store.Save
// call, satisfying "transitions are persisted atomically" (spec §4.F).
func (ss *sessionStore) save(s *Session) error {
	s.UpdatedAt = time.Now()
	b, err := json.Marshal(s)
	if err != nil {
		return common.NewError(common.ECode.IO(), "marshalling session", err)
	}
	return ss.st.Save(sessionKey(s.FileFingerprint), b)
}

func (ss *sessionStore) delete(fingerprint string) error {
	return ss.st.Remove(sessionKey(fingerprint))
}
