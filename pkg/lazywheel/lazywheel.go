// Package lazywheel reads just the METADATA file out of a remote wheel (a zip archive) using
// byte-range HTTP requests, without downloading the whole file. archive/zip only knows how to
// read a zip.Reader backed by a complete io.ReaderAt, so this package hand-parses the
// End-of-Central-Directory record and the central directory the same way CPython's zipfile module
// does, fetching only the small windows it actually needs.
package lazywheel

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"io"
	"path"
	"strings"

	"github.com/datawire/rip/pkg/pep345"
	"github.com/datawire/rip/pkg/riperr"
)

// RangeReader is the narrow interface lazywheel needs from an HTTP client: enough to learn a
// resource's length and fetch byte windows of it. *httpcache.RangeReader implements this.
type RangeReader interface {
	Size() int64
	SupportsRanges() bool
	ReadRange(ctx context.Context, start, length int64) ([]byte, error)
}

const (
	eocdSignature         = 0x06054b50
	eocdMinSize           = 22
	defaultTrailerWindow  = 16 * 1024
	centralDirSignature   = 0x02014b50
	localFileHdrSignature = 0x04034b50
	localFileHdrFixedSize = 30
	readRoundUp           = 8 * 1024
)

type centralDirEntry struct {
	name             string
	compressedSize   uint32
	uncompressedSize uint32
	localHeaderOffset uint32
	method           uint16
}

// ReadMetadata fetches just enough of r to extract `<dist>-<ver>.dist-info/METADATA`'s raw bytes
// and parse them, where expectedDistVersion is `<dist>-<ver>` (case-insensitively, PEP 503/440
// normalized by the caller if needed -- this package does a case-insensitive compare only).
func ReadMetadata(ctx context.Context, r RangeReader, expectedDistVersion string) ([]byte, *pep345.Metadata, error) {
	if !r.SupportsRanges() {
		return nil, nil, riperr.New(riperr.KindUnsupportedFeature, "server does not support byte-range requests")
	}

	entries, err := readCentralDirectory(ctx, r)
	if err != nil {
		return nil, nil, err
	}

	entry, err := findMetadataEntry(entries, expectedDistVersion)
	if err != nil {
		return nil, nil, err
	}

	raw, err := fetchEntryContent(ctx, r, entry)
	if err != nil {
		return nil, nil, err
	}

	md, err := pep345.ParseMetadata(raw)
	if err != nil {
		return nil, nil, riperr.Wrap(riperr.KindMalformedMetadata, err, "parse METADATA")
	}
	return raw, md, nil
}

// readCentralDirectory prefetches the trailing window of the archive to locate the EOCD record,
// then fetches the whole central directory with a second range request unless that window
// already covers all of it.
func readCentralDirectory(ctx context.Context, r RangeReader) ([]centralDirEntry, error) {
	size := r.Size()
	window := int64(defaultTrailerWindow)
	if window > size {
		window = size
	}
	tail, err := r.ReadRange(ctx, size-window, window)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindTransport, err, "prefetch trailer")
	}

	eocdOff := bytes.LastIndex(tail, leUint32Bytes(eocdSignature))
	if eocdOff < 0 || len(tail)-eocdOff < eocdMinSize {
		return nil, riperr.New(riperr.KindCorruptedWheel, "could not locate end-of-central-directory record")
	}
	eocd := tail[eocdOff:]
	cdEntryCount := binary.LittleEndian.Uint16(eocd[10:12])
	cdSize := binary.LittleEndian.Uint32(eocd[12:16])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:20])

	var cdBytes []byte
	// Does the trailing window we already fetched cover the whole central directory?
	cdStartInTail := int64(cdOffset) - (size - window)
	if cdStartInTail >= 0 {
		cdBytes = tail[cdStartInTail : cdStartInTail+int64(cdSize)]
	} else {
		cdBytes, err = r.ReadRange(ctx, int64(cdOffset), int64(cdSize))
		if err != nil {
			return nil, riperr.Wrap(riperr.KindTransport, err, "fetch central directory")
		}
	}

	return parseCentralDirectory(cdBytes, int(cdEntryCount))
}

func parseCentralDirectory(data []byte, count int) ([]centralDirEntry, error) {
	entries := make([]centralDirEntry, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		if pos+46 > len(data) {
			return nil, riperr.New(riperr.KindCorruptedWheel, "truncated central directory")
		}
		if binary.LittleEndian.Uint32(data[pos:]) != centralDirSignature {
			return nil, riperr.New(riperr.KindCorruptedWheel, "bad central directory entry signature")
		}
		method := binary.LittleEndian.Uint16(data[pos+10:])
		compSize := binary.LittleEndian.Uint32(data[pos+20:])
		uncompSize := binary.LittleEndian.Uint32(data[pos+24:])
		nameLen := int(binary.LittleEndian.Uint16(data[pos+28:]))
		extraLen := int(binary.LittleEndian.Uint16(data[pos+30:]))
		commentLen := int(binary.LittleEndian.Uint16(data[pos+32:]))
		localOffset := binary.LittleEndian.Uint32(data[pos+42:])
		nameStart := pos + 46
		if nameStart+nameLen > len(data) {
			return nil, riperr.New(riperr.KindCorruptedWheel, "truncated central directory filename")
		}
		name := string(data[nameStart : nameStart+nameLen])

		entries = append(entries, centralDirEntry{
			name:              name,
			compressedSize:    compSize,
			uncompressedSize:  uncompSize,
			localHeaderOffset: localOffset,
			method:            method,
		})
		pos = nameStart + nameLen + extraLen + commentLen
	}
	return entries, nil
}

func findMetadataEntry(entries []centralDirEntry, expectedDistVersion string) (*centralDirEntry, error) {
	var matches []centralDirEntry
	for _, e := range entries {
		dir := strings.Split(path.Clean(e.name), "/")[0]
		if !strings.HasSuffix(dir, ".dist-info") {
			continue
		}
		distVer := strings.TrimSuffix(dir, ".dist-info")
		if !strings.EqualFold(distVer, expectedDistVersion) {
			continue
		}
		if path.Base(e.name) != "METADATA" {
			continue
		}
		matches = append(matches, e)
	}
	switch len(matches) {
	case 0:
		return nil, riperr.New(riperr.KindDistInfoNotFound, "no METADATA found for %q", expectedDistVersion)
	case 1:
		return &matches[0], nil
	default:
		return nil, riperr.New(riperr.KindAmbiguousDistInfo, "multiple METADATA entries found for %q", expectedDistVersion)
	}
}

func fetchEntryContent(ctx context.Context, r RangeReader, entry *centralDirEntry) ([]byte, error) {
	// The local file header repeats (and can't be trusted to match) the filename/extra field
	// lengths from the central directory, so fetch a generous upper bound (fixed header +
	// max plausible name+extra) rounded up, then re-parse the real header to find the data.
	const maxNameAndExtra = 512
	fetchLen := int64(localFileHdrFixedSize) + maxNameAndExtra + int64(entry.compressedSize)
	fetchLen = roundUp(fetchLen, readRoundUp)

	buf, err := r.ReadRange(ctx, int64(entry.localHeaderOffset), fetchLen)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindTransport, err, "fetch local file entry %q", entry.name)
	}
	if len(buf) < localFileHdrFixedSize || binary.LittleEndian.Uint32(buf) != localFileHdrSignature {
		return nil, riperr.New(riperr.KindCorruptedWheel, "bad local file header for %q", entry.name)
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[26:]))
	extraLen := int(binary.LittleEndian.Uint16(buf[28:]))
	dataStart := localFileHdrFixedSize + nameLen + extraLen
	dataEnd := dataStart + int(entry.compressedSize)
	if dataEnd > len(buf) {
		// Our generous upper-bound guess undershot (e.g. an unusually long extra field);
		// fetch precisely.
		buf, err = r.ReadRange(ctx, int64(entry.localHeaderOffset), int64(dataEnd))
		if err != nil {
			return nil, riperr.Wrap(riperr.KindTransport, err, "re-fetch local file entry %q", entry.name)
		}
	}
	compressed := buf[dataStart:dataEnd]

	switch entry.method {
	case 0: // stored
		return compressed, nil
	case 8: // deflate
		fr := flate.NewReader(bytes.NewReader(compressed))
		defer func() { _ = fr.Close() }()
		data, err := io.ReadAll(fr)
		if err != nil {
			return nil, riperr.Wrap(riperr.KindCorruptedWheel, err, "inflate %q", entry.name)
		}
		return data, nil
	default:
		return nil, riperr.New(riperr.KindUnsupportedFeature, "unsupported zip compression method %d for %q",
			entry.method, entry.name)
	}
}

func roundUp(n, multiple int64) int64 {
	if n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}

func leUint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
