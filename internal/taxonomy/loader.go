package taxonomy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// maxLineBytes bounds a single NDJSON record. Records carry long free-text
// descriptions, so the bufio default of 64KiB is too small.
const maxLineBytes = 4 << 20

// LoadFile reads taxonomy records from path. Files ending in .yaml or .yml are
// read as a multi-document YAML stream; anything else as newline-delimited JSON.
func LoadFile(path string) ([]model.TaxonomyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: open %s", path)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return LoadNDJSON(f)
	}
}

// LoadNDJSON decodes one record per non-blank line. A line that fails to parse
// or validate is logged and skipped; loading continues with the next line.
func LoadNDJSON(r io.Reader) ([]model.TaxonomyRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []model.TaxonomyRecord
	lineNum := 0
	skipped := 0
	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec model.TaxonomyRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			zap.L().Warn("taxonomy: skipping malformed record",
				zap.Int("line", lineNum),
				zap.Error(err),
			)
			continue
		}
		if err := validateRecord(rec); err != nil {
			skipped++
			zap.L().Warn("taxonomy: skipping invalid record",
				zap.Int("line", lineNum),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, eris.Wrapf(err, "taxonomy: read line %d", lineNum+1)
	}

	zap.L().Info("taxonomy: records loaded",
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

// LoadYAML decodes a stream of YAML documents, one record per document.
// Documents that do not fit the record shape are skipped. A syntax error ends
// the stream because the decoder cannot resynchronise after it.
func LoadYAML(r io.Reader) ([]model.TaxonomyRecord, error) {
	dec := yaml.NewDecoder(r)

	var records []model.TaxonomyRecord
	doc := 0
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		doc++
		if err != nil {
			return records, eris.Wrapf(err, "taxonomy: yaml document %d", doc)
		}

		var rec model.TaxonomyRecord
		if err := node.Decode(&rec); err != nil {
			zap.L().Warn("taxonomy: skipping malformed yaml document",
				zap.Int("document", doc),
				zap.Error(err),
			)
			continue
		}
		if err := validateRecord(rec); err != nil {
			zap.L().Warn("taxonomy: skipping invalid yaml document",
				zap.Int("document", doc),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func validateRecord(rec model.TaxonomyRecord) error {
	if rec.ID == "" {
		return eris.New("record has no id")
	}
	if rec.Level != nil && rec.Level.Default == nil {
		return eris.New("level block has no default")
	}
	return nil
}
