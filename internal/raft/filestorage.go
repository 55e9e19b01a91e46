package raft

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// File names inside the storage directory.
const (
	hardStateFile = "hardstate.dat"
	walFile       = "raft.wal"
)

// WAL record types.
const (
	walAppend   uint8 = 1 // Payload: serialized LogEntry
	walTruncate uint8 = 2 // Payload: [Index:8]
)

// walHeaderSize is [Type:1][PayloadLen:4]; a record is header, payload and
// a trailing CRC32 over header and payload.
const walHeaderSize = 5

// FileStorage is a Storage backed by two files in a directory:
//
//   - hardstate.dat holds [Term:8][VotedFor:8][CRC32:4] and is replaced
//     atomically (write temp, fsync, rename).
//   - raft.wal is an append-only sequence of append/truncate records, each
//     fsynced before the call returns.
type FileStorage struct {
	dir string
	wal *os.File
	mu  sync.Mutex
}

// NewFileStorage opens (creating if needed) a storage directory.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("raft: create storage dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, walFile), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("raft: open wal: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("raft: seek wal: %w", err)
	}

	return &FileStorage{dir: dir, wal: f}, nil
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Load reads the hard state and replays the WAL.
// A torn record at the end of the WAL is cut off; damage anywhere else is
// reported as ErrLogCorrupted.
func (s *FileStorage) Load() (*PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := NewPersistentState()

	term, votedFor, err := s.readHardState()
	if err != nil {
		return nil, err
	}
	state.CurrentTerm = term
	state.VotedFor = votedFor

	good, err := s.replay(state.Log)
	if err != nil {
		return nil, err
	}

	// Drop a torn tail so new records follow the last good one.
	if err := s.wal.Truncate(good); err != nil {
		return nil, fmt.Errorf("raft: truncate wal tail: %w", err)
	}
	if _, err := s.wal.Seek(good, io.SeekStart); err != nil {
		return nil, fmt.Errorf("raft: seek wal: %w", err)
	}

	return state, nil
}

func (s *FileStorage) readHardState() (uint64, uint64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, hardStateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("raft: read hard state: %w", err)
	}
	if len(data) < 20 {
		return 0, 0, fmt.Errorf("%w: short hard state file", ErrLogCorrupted)
	}
	if crc32.ChecksumIEEE(data[0:16]) != binary.LittleEndian.Uint32(data[16:20]) {
		return 0, 0, fmt.Errorf("%w: hard state checksum mismatch", ErrLogCorrupted)
	}
	return binary.LittleEndian.Uint64(data[0:8]), binary.LittleEndian.Uint64(data[8:16]), nil
}

// replay applies every WAL record to log and returns the offset just past
// the last intact record.
func (s *FileStorage) replay(log *RaftLog) (int64, error) {
	if _, err := s.wal.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("raft: seek wal: %w", err)
	}

	r := bufio.NewReader(s.wal)
	var offset int64

	for {
		recType, payload, size, err := readWALRecord(r)
		if err == io.EOF {
			return offset, nil
		}
		if errors.Is(err, errTornRecord) {
			// Only acceptable as the final record.
			if _, peekErr := r.Peek(1); peekErr == io.EOF {
				return offset, nil
			}
			return 0, fmt.Errorf("%w: bad wal record at offset %d", ErrLogCorrupted, offset)
		}
		if err != nil {
			return 0, err
		}

		switch recType {
		case walAppend:
			entry, err := DeserializeLogEntry(payload)
			if err != nil {
				return 0, fmt.Errorf("%w: wal entry at offset %d", ErrLogCorrupted, offset)
			}
			if entry.Index != uint64(log.Len()) {
				return 0, fmt.Errorf("%w: wal entry index %d, expected %d", ErrLogCorrupted, entry.Index, log.Len())
			}
			log.Append(entry)
		case walTruncate:
			if len(payload) != 8 {
				return 0, fmt.Errorf("%w: wal truncate record at offset %d", ErrLogCorrupted, offset)
			}
			log.TruncateFrom(binary.LittleEndian.Uint64(payload))
		default:
			return 0, fmt.Errorf("%w: wal record type %d at offset %d", ErrLogCorrupted, recType, offset)
		}

		offset += size
	}
}

var errTornRecord = errors.New("raft: torn wal record")

// readWALRecord reads one record. It returns io.EOF at a clean end of file
// and errTornRecord for a short or checksum-failing record.
func readWALRecord(r *bufio.Reader) (uint8, []byte, int64, error) {
	header := make([]byte, walHeaderSize)
	n, err := io.ReadFull(r, header)
	if err == io.EOF {
		return 0, nil, 0, io.EOF
	}
	if err != nil || n < walHeaderSize {
		return 0, nil, 0, errTornRecord
	}

	payloadLen := binary.LittleEndian.Uint32(header[1:5])
	if payloadLen > maxMessageSize {
		return 0, nil, 0, errTornRecord
	}

	rest := make([]byte, int(payloadLen)+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, nil, 0, errTornRecord
	}

	payload := rest[:payloadLen]
	sum := crc32.NewIEEE()
	sum.Write(header)
	sum.Write(payload)
	if sum.Sum32() != binary.LittleEndian.Uint32(rest[payloadLen:]) {
		return 0, nil, 0, errTornRecord
	}

	return header[0], payload, int64(walHeaderSize) + int64(payloadLen) + 4, nil
}

func appendWALRecord(buf []byte, recType uint8, payload []byte) []byte {
	header := make([]byte, walHeaderSize)
	header[0] = recType
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(payload)))

	sum := crc32.NewIEEE()
	sum.Write(header)
	sum.Write(payload)

	buf = append(buf, header...)
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint32(buf, sum.Sum32())
}

// SaveHardState atomically replaces the hard state file.
func (s *FileStorage) SaveHardState(term, votedFor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, 20)
	binary.LittleEndian.PutUint64(data[0:8], term)
	binary.LittleEndian.PutUint64(data[8:16], votedFor)
	binary.LittleEndian.PutUint32(data[16:20], crc32.ChecksumIEEE(data[0:16]))

	path := filepath.Join(s.dir, hardStateFile)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("raft: write hard state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("raft: write hard state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("raft: sync hard state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("raft: close hard state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("raft: rename hard state: %w", err)
	}
	return nil
}

// Append writes one record per entry and fsyncs once.
func (s *FileStorage) Append(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf []byte
	for _, e := range entries {
		data, err := e.Serialize()
		if err != nil {
			return err
		}
		buf = appendWALRecord(buf, walAppend, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSync(buf)
}

// TruncateFrom records a truncation at index.
func (s *FileStorage) TruncateFrom(index uint64) error {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, index)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSync(appendWALRecord(nil, walTruncate, payload))
}

func (s *FileStorage) writeSync(buf []byte) error {
	if _, err := s.wal.Write(buf); err != nil {
		return fmt.Errorf("raft: write wal: %w", err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("raft: sync wal: %w", err)
	}
	return nil
}

// Close closes the WAL file.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
