package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/persist"
)

const filePerm = 0o644

// Save writes r to path. The codec follows the extension: .json, .yaml or
// .yml, each optionally compressed with a trailing .lz4.
func Save(path string, r *backfill.Report) error {
	codec, err := persist.CodecFor(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer

	err = codec.Encode(&buf, r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	err = os.WriteFile(path, buf.Bytes(), filePerm)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

// Load reads a report written by Save and validates it against the schema
// before decoding it into the typed model.
func Load(path string) (*backfill.Report, error) {
	codec, err := persist.CodecFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	var doc any

	err = codec.Decode(bytes.NewReader(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	err = Validate(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var r backfill.Report

	err = codec.Decode(bytes.NewReader(data), &r)
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	return &r, nil
}
