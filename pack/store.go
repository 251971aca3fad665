package pack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/zpackdb/zpack/metrics"
	"github.com/zpackdb/zpack/queue"
)

var (
	ErrorClosed  = errors.New("store is closed")
	ErrorNotOpen = errors.New("store is not open")
)

// Options configures a Store. Path is the only required field.
type Options struct {
	Path string

	// AutoFlush rewrites the footer after every write instead of only at
	// Close. Slower, but the file is recoverable without a scan at any point.
	AutoFlush bool

	// Compression stores each document as one snappy block instead of
	// field frames.
	Compression bool

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Store is an append-only document file with an in-memory id→offset index.
// Every public operation runs as a task on a single worker goroutine, so
// operations complete strictly in submission order and none observes a
// half-applied effect.
type Store struct {
	options Options
	logger  *slog.Logger
	metrics metrics.Recorder

	file      *os.File
	index     map[DocID]int64
	nextID    DocID
	dataEnd   int64 // offset one past the last record byte
	hasFooter bool  // a footer trails dataEnd on disk

	tasks *queue.Queue
}

// Open opens the store at options.Path, creating the file when absent. A
// valid footer restores the index directly; anything else falls back to a
// sequential scan of the records.
func Open(options Options) (*Store, error) {
	if options.Path == "" {
		return nil, errors.New("store path is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Nop
	}

	s := &Store{
		options: options,
		logger:  options.Logger,
		metrics: options.Metrics,
	}

	start := time.Now()
	err := s.load()
	if err != nil {
		return nil, err
	}
	s.metrics.Record("store.open", time.Since(start))

	s.tasks = queue.New(1024, ErrorClosed)

	return s, nil
}

func (s *Store) do(fn func() error) error {
	if s.tasks == nil {
		return ErrorNotOpen
	}
	return s.tasks.Do(fn)
}

func (s *Store) observe(op string, start time.Time) {
	if s.metrics == nil { // store was never opened
		return
	}
	s.metrics.Record(op, time.Since(start))
}

// load opens the backing file and rebuilds the in-memory state from it.
func (s *Store) load() error {
	file, err := os.OpenFile(s.options.Path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat store file: %w", err)
	}

	s.file = file
	s.index = map[DocID]int64{}
	s.nextID = 1
	s.dataEnd = 0
	s.hasFooter = false

	size := info.Size()
	if size == 0 {
		return nil
	}

	err = s.loadFooter(size)
	if err == nil {
		s.logger.Debug("store footer loaded", "path", s.options.Path, "documents", len(s.index))
		return nil
	}
	s.logger.Warn("store footer unusable, scanning records", "path", s.options.Path, "error", err)

	s.scan(size)
	s.logger.Debug("store recovered by scan", "path", s.options.Path, "documents", len(s.index))
	return nil
}

func (s *Store) loadFooter(size int64) error {
	if size < footerFixedLen {
		return fmt.Errorf("%w: file holds no footer", errorFooterInvalid)
	}

	tail := make([]byte, 4)
	_, err := s.file.ReadAt(tail, size-4)
	if err != nil {
		return fmt.Errorf("read footer size: %w", err)
	}
	footerSize := int64(binary.LittleEndian.Uint32(tail))
	if footerSize < footerFixedLen || footerSize > size {
		return fmt.Errorf("%w: size %d out of range", errorFooterInvalid, footerSize)
	}

	footer := make([]byte, footerSize)
	_, err = s.file.ReadAt(footer, size-footerSize)
	if err != nil {
		return fmt.Errorf("read footer: %w", err)
	}

	index, err := decodeFooter(footer, size-footerSize)
	if err != nil {
		return err
	}

	s.index = index
	s.dataEnd = size - footerSize
	s.hasFooter = true
	s.nextID = s.skimNextID()
	return nil
}

// scan rebuilds the index by replaying every record in file order, stopping
// at the first torn or garbage tail.
func (s *Store) scan(size int64) {
	s.index = map[DocID]int64{}
	next := DocID(1)
	s.dataEnd = s.walkRecords(size, func(offset int64, id DocID, tombstone bool) {
		if tombstone {
			delete(s.index, id)
		} else {
			s.index[id] = offset
		}
		if id >= next {
			next = id + 1
		}
	})
	s.hasFooter = false
	s.nextID = next
}

// skimNextID walks record headers for the highest id ever written. The
// footer only lists live documents, so the counter must come from the
// records themselves or a deleted high id would be handed out twice.
func (s *Store) skimNextID() DocID {
	next := DocID(1)
	s.walkRecords(s.dataEnd, func(offset int64, id DocID, tombstone bool) {
		if id >= next {
			next = id + 1
		}
	})
	return next
}

// walkRecords reads record headers sequentially from offset 0 up to limit,
// calling fn for each well-formed record. It stops early at a truncated
// record, at a record overrunning limit, or at footer magic sitting on a
// record boundary, and returns the offset one past the last good record.
func (s *Store) walkRecords(limit int64, fn func(offset int64, id DocID, tombstone bool)) int64 {
	reader := bufio.NewReaderSize(io.NewSectionReader(s.file, 0, limit), 1<<20)
	offset := int64(0)
	for {
		peek, err := reader.Peek(headerLen)
		if err != nil {
			return offset
		}
		if bytes.Equal(peek[:footerMagicLen], footerMagic) && peek[footerMagicLen] == footerVersion {
			return offset
		}
		payloadSize := int64(binary.LittleEndian.Uint16(peek))
		if payloadSize < idLen {
			return offset
		}
		if offset+sizeLen+payloadSize > limit {
			return offset
		}

		fn(offset, DocID(binary.LittleEndian.Uint32(peek[sizeLen:])), payloadSize == idLen)

		advance := sizeLen + payloadSize
		_, err = reader.Discard(int(advance))
		if err != nil {
			return offset
		}
		offset += advance
	}
}

// Insert appends one document under the next free id and returns that id.
func (s *Store) Insert(fields map[string]any) (DocID, error) {
	defer s.observe("store.insert", time.Now())

	var id DocID
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		id = s.nextID
		return s.insertRecord(id, fields)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertWithID appends one document under an explicit id and advances the id
// counter past it. An id that is already live is superseded in place.
func (s *Store) InsertWithID(id DocID, fields map[string]any) error {
	defer s.observe("store.insert", time.Now())

	return s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		return s.insertRecord(id, fields)
	})
}

func (s *Store) insertRecord(id DocID, fields map[string]any) error {
	record, err := encodeDocument(id, fields, s.options.Compression)
	if err != nil {
		return err
	}
	meta, err := peekMeta(record[sizeLen:], s.options.Compression)
	if err != nil {
		return err
	}
	offsets, err := s.appendRecords([][]byte{record})
	if err != nil {
		return err
	}
	s.applyRecord(meta, offsets[0])
	if s.options.AutoFlush {
		return s.writeFooter()
	}
	return nil
}

// InsertBatch encodes every document first, so a bad document rejects the
// whole call before any bytes land, appends them in a single write, and
// applies the same per-document bookkeeping as Insert.
func (s *Store) InsertBatch(docs []map[string]any) ([]DocID, error) {
	defer s.observe("store.insert_batch", time.Now())

	var ids []DocID
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}

		records := make([][]byte, 0, len(docs))
		metas := make([]Meta, 0, len(docs))
		id := s.nextID
		for _, fields := range docs {
			record, err := encodeDocument(id, fields, s.options.Compression)
			if err != nil {
				return err
			}
			meta, err := peekMeta(record[sizeLen:], s.options.Compression)
			if err != nil {
				return err
			}
			records = append(records, record)
			metas = append(metas, meta)
			id++
		}

		offsets, err := s.appendRecords(records)
		if err != nil {
			return err
		}
		ids = make([]DocID, len(metas))
		for i, meta := range metas {
			s.applyRecord(meta, offsets[i])
			ids[i] = meta.ID
		}
		if s.options.AutoFlush {
			return s.writeFooter()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete appends a tombstone for id and drops it from the index. Deleting an
// id that is not live is a no-op.
func (s *Store) Delete(id DocID) error {
	defer s.observe("store.delete", time.Now())

	return s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		_, live := s.index[id]
		if !live {
			return nil
		}
		_, err := s.appendRecords([][]byte{encodeTombstone(id)})
		if err != nil {
			return err
		}
		delete(s.index, id)
		if s.options.AutoFlush {
			return s.writeFooter()
		}
		return nil
	})
}

// Get returns the live fields for id, or nil when id is unindexed, the
// record cannot be read back whole, or it decodes as a tombstone.
func (s *Store) Get(id DocID) (map[string]any, error) {
	defer s.observe("store.get", time.Now())

	var fields map[string]any
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		var err error
		fields, err = s.get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *Store) get(id DocID) (map[string]any, error) {
	offset, ok := s.index[id]
	if !ok {
		return nil, nil
	}

	header := make([]byte, sizeLen)
	_, err := s.file.ReadAt(header, offset)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document %d header: %w", id, err)
	}

	body := make([]byte, binary.LittleEndian.Uint16(header))
	_, err = s.file.ReadAt(body, offset+sizeLen)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document %d: %w", id, err)
	}

	doc, err := decodeDocument(body, s.options.Compression)
	if err != nil {
		return nil, fmt.Errorf("decode document %d: %w", id, err)
	}
	if doc.Tombstone() {
		return nil, nil
	}
	return doc.Fields, nil
}

// Keys returns the live document ids in ascending order.
func (s *Store) Keys() ([]DocID, error) {
	defer s.observe("store.keys", time.Now())

	var keys []DocID
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		keys = s.keys()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) keys() []DocID {
	keys := make([]DocID, 0, len(s.index))
	for id := range s.index {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns how many documents are live.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		n = len(s.index)
		return nil
	})
	return n, err
}

// Size returns the byte size of the backing file.
func (s *Store) Size() (int64, error) {
	var size int64
	err := s.do(func() error {
		if s.file == nil {
			return ErrorClosed
		}
		info, err := s.file.Stat()
		if err != nil {
			return fmt.Errorf("stat store file: %w", err)
		}
		size = info.Size()
		return nil
	})
	return size, err
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.options.Path
}

// Vacuum rewrites the file keeping only live documents and reopens it in
// place. Document ids are preserved, so indexes layered on top stay valid.
func (s *Store) Vacuum() error {
	defer s.observe("store.vacuum", time.Now())

	return s.do(s.vacuum)
}

func (s *Store) vacuum() error {
	if s.file == nil {
		return ErrorClosed
	}

	tempPath := s.options.Path + ".vacuum"
	os.Remove(tempPath) // leftover from an interrupted vacuum

	temp, err := Open(Options{
		Path:        tempPath,
		Compression: s.options.Compression,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("open vacuum store: %w", err)
	}

	for _, id := range s.keys() {
		fields, err := s.get(id)
		if err != nil {
			temp.Close()
			os.Remove(tempPath)
			return err
		}
		if fields == nil {
			continue
		}
		err = temp.InsertWithID(id, fields)
		if err != nil {
			temp.Close()
			os.Remove(tempPath)
			return fmt.Errorf("copy document %d: %w", id, err)
		}
	}

	err = temp.Close()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close vacuum store: %w", err)
	}

	err = s.file.Close()
	if err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	s.file = nil

	counter := s.nextID

	err = os.Rename(tempPath, s.options.Path)
	if err != nil {
		loadErr := s.load() // keep serving from the uncompacted file
		if loadErr == nil && counter > s.nextID {
			s.nextID = counter
		}
		os.Remove(tempPath)
		return fmt.Errorf("swap vacuumed file: %w", err)
	}

	err = s.load()
	if err != nil {
		return fmt.Errorf("reopen after vacuum: %w", err)
	}
	if counter > s.nextID {
		s.nextID = counter // ids handed out before the vacuum stay burned
	}

	s.logger.Debug("store vacuumed", "path", s.options.Path, "documents", len(s.index))
	return nil
}

// Close writes the final footer and closes the file. It is itself a queued
// task: operations already submitted complete first, later ones are rejected
// with ErrorClosed.
func (s *Store) Close() error {
	defer s.observe("store.close", time.Now())

	if s.tasks == nil {
		return ErrorNotOpen
	}
	return s.tasks.Shutdown(s.closeFile)
}

func (s *Store) closeFile() error {
	if s.file == nil {
		return ErrorClosed
	}

	err := s.writeFooter()
	if err != nil {
		s.file.Close()
		s.file = nil
		return err
	}
	err = s.file.Sync()
	if err != nil {
		s.file.Close()
		s.file = nil
		return fmt.Errorf("sync store file: %w", err)
	}
	err = s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	return nil
}

// writeFooter persists the index after the data region and trims whatever
// trailed it before.
func (s *Store) writeFooter() error {
	footer := encodeFooter(s.index)
	_, err := s.file.WriteAt(footer, s.dataEnd)
	if err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	err = s.file.Truncate(s.dataEnd + int64(len(footer)))
	if err != nil {
		return fmt.Errorf("trim stale footer: %w", err)
	}
	s.hasFooter = true
	return nil
}

// appendRecords writes records contiguously at dataEnd in one syscall and
// returns the offset of each. A footer in the way is truncated off first.
func (s *Store) appendRecords(records [][]byte) ([]int64, error) {
	if s.hasFooter {
		err := s.file.Truncate(s.dataEnd)
		if err != nil {
			return nil, fmt.Errorf("trim footer before append: %w", err)
		}
		s.hasFooter = false
	}

	total := 0
	for _, record := range records {
		total += len(record)
	}

	buffer := make([]byte, 0, total)
	offsets := make([]int64, 0, len(records))
	offset := s.dataEnd
	for _, record := range records {
		offsets = append(offsets, offset)
		buffer = append(buffer, record...)
		offset += int64(len(record))
	}

	_, err := s.file.WriteAt(buffer, s.dataEnd)
	if err != nil {
		return nil, fmt.Errorf("append records: %w", err)
	}
	s.dataEnd = offset

	return offsets, nil
}

func (s *Store) applyRecord(meta Meta, offset int64) {
	if meta.Tombstone {
		delete(s.index, meta.ID)
	} else {
		s.index[meta.ID] = offset
	}
	if meta.ID >= s.nextID {
		s.nextID = meta.ID + 1
	}
}
