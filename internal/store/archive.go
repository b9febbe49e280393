package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"waypoint/internal/graph"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// WriteArchive writes g as indented JSON, zstd-compressed when compress is
// set.
func WriteArchive(w io.Writer, g *graph.Graph, compress bool) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	data = append(data, '\n')

	if !compress {
		_, err := w.Write(data)
		return err
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// ReadArchive reads a graph written by WriteArchive. Compression is detected
// from the stream itself. The graph is repaired and validated.
func ReadArchive(r io.Reader) (*graph.Graph, graph.RepairReport, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, graph.RepairReport{}, fmt.Errorf("reading archive: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		decoder, err := zstd.NewReader(br)
		if err != nil {
			return nil, graph.RepairReport{}, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()
		src = decoder
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, graph.RepairReport{}, fmt.Errorf("decompressing: %w", err)
	}
	return graph.FromJSON(data)
}
