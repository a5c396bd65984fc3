package reqlog

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// bucketSize is the number of ids that share one payload bucket file,
// per spec.md §4.3: "<inc_id/100000>.req.log".
const bucketSize = 100000

// CommonReqData is one write request as it flows through the log:
// assigned inc_id, request type, and opaque payload bytes.
type CommonReqData struct {
	IncID   uint32
	ReqType uint16
	Payload []byte
}

// Manager is the Request Log Manager for one node. All operations
// serialize on a single lock; readers open their own file handles so
// they never contend with the append-only writer.
type Manager struct {
	mu sync.Mutex

	basePath    string
	headPath    string
	incIDNext   uint32
	lastWritten uint32
	hasWritten  bool
	prepared    *CommonReqData
}

// Open initializes a Manager rooted at basePath, creating the directory
// and head file if absent. If the head file's length is non-zero and
// not a whole multiple of HeadSize, Open fails with ErrLogCorrupt. The
// prepared slot always starts empty, per spec.md §4.3.
func Open(basePath string) (*Manager, error) {
	m := &Manager{
		basePath:  basePath,
		headPath:  filepath.Join(basePath, "head.req.log"),
		incIDNext: 1,
	}
	if err := m.loadLastData(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadLastData() error {
	if _, err := os.Stat(m.basePath); os.IsNotExist(err) {
		if err := os.MkdirAll(m.basePath, 0o755); err != nil {
			return fmt.Errorf("reqlog: create base dir: %w", err)
		}
		f, err := os.OpenFile(m.headPath, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("reqlog: create head file: %w", err)
		}
		return f.Close()
	}

	data, err := os.ReadFile(m.headPath)
	if err != nil {
		if os.IsNotExist(err) {
			f, err := os.OpenFile(m.headPath, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("reqlog: create head file: %w", err)
			}
			return f.Close()
		}
		return fmt.Errorf("reqlog: read head file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}
	if len(data)%HeadSize != 0 {
		return fmt.Errorf("%w: head file length %d is not a multiple of %d", ErrLogCorrupt, len(data), HeadSize)
	}

	last, err := decodeHead(data[len(data)-HeadSize:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogCorrupt, err)
	}
	m.lastWritten = last.IncID
	m.hasWritten = true
	m.incIDNext = last.IncID + 1
	return nil
}

// Prepare reserves the single in-flight write slot for req. If
// isPrimary, req.IncID is overwritten with the next assigned id.
// Otherwise req.IncID must already be set by the primary; it is
// accepted only if it is not less than the id this node expects next,
// and it advances this node's next-id counter.
func (m *Manager) Prepare(req CommonReqData, isPrimary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prepared != nil {
		return ErrAlreadyPrepared
	}

	if isPrimary {
		req.IncID = m.incIDNext
		m.incIDNext++
	} else {
		if req.IncID < m.incIDNext {
			return fmt.Errorf("%w: replica expected >= %d, primary sent %d", ErrStaleID, m.incIDNext, req.IncID)
		}
		m.incIDNext = req.IncID + 1
	}

	prepared := req
	prepared.Payload = append([]byte(nil), req.Payload...)
	m.prepared = &prepared
	return nil
}

// GetPrepared returns the currently prepared request, if any.
func (m *Manager) GetPrepared() (CommonReqData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepared == nil {
		return CommonReqData{}, false
	}
	return *m.prepared, true
}

// DiscardPrepared clears the prepared slot. It is a no-op if nothing is
// prepared.
func (m *Manager) DiscardPrepared() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared = nil
}

// Append durably writes the prepared request's payload -- overridden by
// the payload argument if non-nil, otherwise the prepared request's own
// Payload is used -- to the log and advances last-written-id. Append
// requires a prepared request and does not clear it; callers call
// DiscardPrepared after committing or aborting.
func (m *Manager) Append(payload []byte) (Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prepared == nil {
		return Head{}, ErrNotPrepared
	}
	req := *m.prepared
	if payload == nil {
		payload = req.Payload
	}

	if m.hasWritten && req.IncID < m.lastWritten {
		return Head{}, fmt.Errorf("%w: prepared id %d < last written %d", ErrOutOfOrder, req.IncID, m.lastWritten)
	}

	bucketPath := m.bucketPath(req.IncID)
	dataFile, err := os.OpenFile(bucketPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Head{}, fmt.Errorf("reqlog: open bucket file: %w", err)
	}
	defer dataFile.Close()

	offset, err := dataFile.Seek(0, io.SeekEnd)
	if err != nil {
		return Head{}, fmt.Errorf("reqlog: seek bucket file: %w", err)
	}

	if _, err := dataFile.Write(payload); err != nil {
		return Head{}, fmt.Errorf("reqlog: write payload: %w", err)
	}

	head := Head{
		IncID:         req.IncID,
		ReqType:       req.ReqType,
		ReqDataOffset: uint64(offset),
		ReqDataLen:    uint32(len(payload)),
		ReqDataCRC:    crc32.ChecksumIEEE(payload),
	}

	headBytes, err := head.MarshalBinary()
	if err != nil {
		return Head{}, err
	}

	headFile, err := os.OpenFile(m.headPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Head{}, fmt.Errorf("reqlog: open head file: %w", err)
	}
	defer headFile.Close()

	if _, err := headFile.Write(headBytes); err != nil {
		return Head{}, fmt.Errorf("reqlog: write head: %w", err)
	}

	m.lastWritten = req.IncID
	m.hasWritten = true
	return head, nil
}

func (m *Manager) bucketPath(incID uint32) string {
	return filepath.Join(m.basePath, fmt.Sprintf("%d.req.log", incID/bucketSize))
}

// LastWrittenID returns the highest inc_id durably appended so far, or
// 0 if nothing has been written.
func (m *Manager) LastWrittenID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWritten
}

// NextIncID returns the id that will be assigned to the next primary
// prepare.
func (m *Manager) NextIncID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incIDNext
}

// GetByID returns the entry with inc_id == wantedID if present,
// otherwise the entry with the smallest inc_id > wantedID, otherwise
// ErrNotFound. Implemented as a binary search over the head file.
func (m *Manager) GetByID(wantedID uint32) (CommonReqData, Head, error) {
	m.mu.Lock()
	headPath := m.headPath
	basePath := m.basePath
	m.mu.Unlock()

	head, _, err := lowerBoundHead(headPath, wantedID)
	if err != nil {
		return CommonReqData{}, Head{}, err
	}
	req, err := readPayload(basePath, head)
	return req, head, err
}

// GetByHeadOffset reads one header at *offset, advances *offset to the
// next header position, and returns the header's payload. Drives
// sequential replay.
func (m *Manager) GetByHeadOffset(offset *uint64) (CommonReqData, Head, error) {
	m.mu.Lock()
	headPath := m.headPath
	basePath := m.basePath
	m.mu.Unlock()

	f, err := os.Open(headPath)
	if err != nil {
		return CommonReqData{}, Head{}, fmt.Errorf("reqlog: open head file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return CommonReqData{}, Head{}, err
	}
	length := uint64(info.Size())
	if length < HeadSize || *offset > length-HeadSize {
		return CommonReqData{}, Head{}, ErrNotFound
	}

	buf := make([]byte, HeadSize)
	if _, err := f.ReadAt(buf, int64(*offset)); err != nil {
		return CommonReqData{}, Head{}, fmt.Errorf("reqlog: read head record: %w", err)
	}
	head, err := decodeHead(buf)
	if err != nil {
		return CommonReqData{}, Head{}, fmt.Errorf("%w: %v", ErrLogCorrupt, err)
	}
	*offset += HeadSize

	req, err := readPayload(basePath, head)
	return req, head, err
}

// ListIDs returns up to max ids starting from start (lower-bound
// semantics, per GetByID), and their payloads if wantPayload is true.
func (m *Manager) ListIDs(start uint32, max int, wantPayload bool) ([]uint32, [][]byte, error) {
	m.mu.Lock()
	headPath := m.headPath
	basePath := m.basePath
	lastWritten := m.lastWritten
	m.mu.Unlock()

	_, offset, err := lowerBoundHead(headPath, start)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	ids := make([]uint32, 0, max)
	var payloads [][]byte
	if wantPayload {
		payloads = make([][]byte, 0, max)
	}

	f, err := os.Open(headPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reqlog: open head file: %w", err)
	}
	defer f.Close()

	for len(ids) < max {
		buf := make([]byte, HeadSize)
		if _, err := f.ReadAt(buf, int64(offset)); err != nil {
			break
		}
		head, err := decodeHead(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrLogCorrupt, err)
		}
		if head.IncID > lastWritten {
			break
		}
		ids = append(ids, head.IncID)
		if wantPayload {
			req, err := readPayload(basePath, head)
			if err != nil {
				return nil, nil, err
			}
			payloads = append(payloads, req.Payload)
		}
		offset += HeadSize
	}

	return ids, payloads, nil
}

// lowerBoundHead binary-searches the head file for the entry with
// inc_id == wanted, or the smallest inc_id > wanted. It returns the
// matching head and its byte offset in the head file.
func lowerBoundHead(headPath string, wanted uint32) (Head, uint64, error) {
	f, err := os.Open(headPath)
	if err != nil {
		return Head{}, 0, fmt.Errorf("reqlog: open head file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Head{}, 0, err
	}
	length := info.Size()
	if length < HeadSize {
		return Head{}, 0, ErrNotFound
	}
	if length%HeadSize != 0 {
		return Head{}, 0, fmt.Errorf("%w: head file length %d is not a multiple of %d", ErrLogCorrupt, length, HeadSize)
	}

	readAt := func(idx int64) (Head, error) {
		buf := make([]byte, HeadSize)
		if _, err := f.ReadAt(buf, idx*HeadSize); err != nil {
			return Head{}, fmt.Errorf("reqlog: read head record: %w", err)
		}
		return decodeHead(buf)
	}

	count := length / HeadSize
	last, err := readAt(count - 1)
	if err != nil {
		return Head{}, 0, err
	}
	if wanted > last.IncID {
		return Head{}, 0, ErrNotFound
	}

	start, end := int64(0), count-1
	var result Head
	var resultOffset uint64
	found := false
	for start <= end {
		mid := start + (end-start)/2
		cur, err := readAt(mid)
		if err != nil {
			return Head{}, 0, err
		}
		switch {
		case cur.IncID == wanted:
			return cur, uint64(mid) * HeadSize, nil
		case cur.IncID > wanted:
			result = cur
			resultOffset = uint64(mid) * HeadSize
			found = true
			if mid == 0 {
				end = -1
			} else {
				end = mid - 1
			}
		default:
			start = mid + 1
		}
	}
	if !found {
		return Head{}, 0, ErrNotFound
	}
	return result, resultOffset, nil
}

func readPayload(basePath string, head Head) (CommonReqData, error) {
	bucketPath := filepath.Join(basePath, fmt.Sprintf("%d.req.log", head.IncID/bucketSize))
	f, err := os.Open(bucketPath)
	if err != nil {
		return CommonReqData{}, fmt.Errorf("reqlog: open bucket file: %w", err)
	}
	defer f.Close()

	payload := make([]byte, head.ReqDataLen)
	if _, err := f.ReadAt(payload, int64(head.ReqDataOffset)); err != nil {
		return CommonReqData{}, fmt.Errorf("reqlog: read payload: %w", err)
	}
	if crc32.ChecksumIEEE(payload) != head.ReqDataCRC {
		return CommonReqData{}, fmt.Errorf("%w: crc mismatch for inc_id %d", ErrLogCorrupt, head.IncID)
	}
	return CommonReqData{IncID: head.IncID, ReqType: head.ReqType, Payload: payload}, nil
}
