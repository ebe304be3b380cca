// Package recorder persists session data handed over by the manager's
// read API. Each session gets its own directory containing a CSV file of
// samples, a JSON-lines file of the same records, a metadata document and
// a summary written on close. The recorder pulls from manager snapshots;
// it never touches receiver internals.
package recorder

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/quality"
	"github.com/c360/sensorstreams/stream"
)

// Config controls session layout and formats.
type Config struct {
	// OutputDir is the parent directory for session directories.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// SessionName overrides the generated session identifier.
	SessionName string `json:"session_name" yaml:"session_name"`

	// CSV and JSONL toggle the two data formats. Both default on.
	CSV   *bool `json:"csv" yaml:"csv"`
	JSONL *bool `json:"jsonl" yaml:"jsonl"`

	// FlushEvery forces a writer flush after this many records.
	FlushEvery int `json:"flush_every" yaml:"flush_every"`
}

func (c Config) withDefaults() Config {
	if c.OutputDir == "" {
		c.OutputDir = "sessions"
	}
	if c.SessionName == "" {
		c.SessionName = "session-" + uuid.NewString()
	}
	if c.CSV == nil {
		on := true
		c.CSV = &on
	}
	if c.JSONL == nil {
		on := true
		c.JSONL = &on
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 1000
	}
	return c
}

// Record is one persisted sample row.
type Record struct {
	Stream     string    `json:"stream"`
	StreamType string    `json:"stream_type"`
	Timestamp  float64   `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	Values     []float64 `json:"values"`
}

// streamMeta tracks per-stream facts for the metadata document.
type streamMeta struct {
	Type        string  `json:"type"`
	NominalRate float64 `json:"nominal_rate_hz"`
	Channels    int     `json:"channels"`
	Samples     int64   `json:"samples"`
	FirstTS     float64 `json:"first_timestamp"`
	LastTS      float64 `json:"last_timestamp"`
}

// Summary is written as summary.json when a session closes.
type Summary struct {
	Session      string                         `json:"session"`
	StartedAt    time.Time                      `json:"started_at"`
	EndedAt      time.Time                      `json:"ended_at"`
	Duration     string                         `json:"duration"`
	TotalSamples int64                          `json:"total_samples"`
	Streams      map[string]*streamMeta         `json:"streams"`
	Signal       map[string]quality.SignalStats `json:"signal_stats,omitempty"`
	Files        []string                       `json:"files"`
}

// Recorder writes one session. Safe for concurrent use; create one per
// session and Close it exactly once.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	dir       string
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonlFile *os.File
	startedAt time.Time
	streams   map[string]*streamMeta
	lastSeen  map[string]float64 // highest persisted timestamp per stream
	pending   int
	total     int64
	closed    bool
}

// New creates the session directory and opens the configured writers.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	dir := filepath.Join(cfg.OutputDir, cfg.SessionName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "recorder", "New", "session directory create")
	}

	r := &Recorder{
		cfg:       cfg,
		logger:    logger.With("component", "recorder", "session", cfg.SessionName),
		dir:       dir,
		startedAt: time.Now(),
		streams:   make(map[string]*streamMeta),
		lastSeen:  make(map[string]float64),
	}

	if *cfg.CSV {
		f, err := os.Create(filepath.Join(dir, "samples.csv"))
		if err != nil {
			return nil, errors.WrapFatal(err, "recorder", "New", "csv create")
		}
		r.csvFile = f
		r.csvWriter = csv.NewWriter(f)
		header := []string{"stream", "stream_type", "timestamp", "received_at", "values"}
		if err := r.csvWriter.Write(header); err != nil {
			f.Close()
			return nil, errors.WrapFatal(err, "recorder", "New", "csv header write")
		}
	}

	if *cfg.JSONL {
		f, err := os.Create(filepath.Join(dir, "samples.jsonl"))
		if err != nil {
			if r.csvFile != nil {
				r.csvFile.Close()
			}
			return nil, errors.WrapFatal(err, "recorder", "New", "jsonl create")
		}
		r.jsonlFile = f
	}

	r.logger.Info("session opened", "dir", dir)
	return r, nil
}

// Dir returns the session directory path.
func (r *Recorder) Dir() string {
	return r.dir
}

// Session returns the session identifier.
func (r *Recorder) Session() string {
	return r.cfg.SessionName
}

// RecordSnapshot persists the samples of one stream snapshot, skipping
// samples already persisted in an earlier snapshot of the same stream.
// Snapshots overlap by design; dedup by timestamp keeps files append-only.
func (r *Recorder) RecordSnapshot(desc stream.SourceDescriptor, samples []stream.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "recorder", "RecordSnapshot", "state check")
	}

	meta, ok := r.streams[desc.Name]
	if !ok {
		meta = &streamMeta{
			Type:        desc.Type,
			NominalRate: desc.NominalRate,
			Channels:    desc.ChannelCount,
		}
		r.streams[desc.Name] = meta
	}

	last := r.lastSeen[desc.Name]
	for _, smp := range samples {
		if meta.Samples > 0 && smp.Timestamp <= last {
			continue
		}
		if err := r.writeRecord(Record{
			Stream:     desc.Name,
			StreamType: desc.Type,
			Timestamp:  smp.Timestamp,
			ReceivedAt: smp.ReceivedAt,
			Values:     smp.Values,
		}); err != nil {
			return err
		}

		if meta.Samples == 0 {
			meta.FirstTS = smp.Timestamp
		}
		meta.LastTS = smp.Timestamp
		meta.Samples++
		r.total++
		last = smp.Timestamp
	}
	r.lastSeen[desc.Name] = last

	if r.pending >= r.cfg.FlushEvery {
		return r.flushLocked()
	}
	return nil
}

func (r *Recorder) writeRecord(rec Record) error {
	if r.csvWriter != nil {
		row := []string{
			rec.Stream,
			rec.StreamType,
			strconv.FormatFloat(rec.Timestamp, 'f', -1, 64),
			rec.ReceivedAt.Format(time.RFC3339Nano),
			joinValues(rec.Values),
		}
		if err := r.csvWriter.Write(row); err != nil {
			return errors.WrapTransient(err, "recorder", "writeRecord", "csv write")
		}
	}

	if r.jsonlFile != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return errors.WrapInvalid(err, "recorder", "writeRecord", "record marshal")
		}
		if _, err := r.jsonlFile.Write(append(line, '\n')); err != nil {
			return errors.WrapTransient(err, "recorder", "writeRecord", "jsonl write")
		}
	}

	r.pending++
	return nil
}

// Flush forces buffered rows to disk.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	r.pending = 0
	if r.csvWriter != nil {
		r.csvWriter.Flush()
		if err := r.csvWriter.Error(); err != nil {
			return errors.WrapTransient(err, "recorder", "Flush", "csv flush")
		}
	}
	if r.jsonlFile != nil {
		if err := r.jsonlFile.Sync(); err != nil {
			return errors.WrapTransient(err, "recorder", "Flush", "jsonl sync")
		}
	}
	return nil
}

// Close flushes the writers, writes metadata.json and summary.json, and
// releases the file handles. Signal statistics may be nil.
func (r *Recorder) Close(signal map[string]quality.SignalStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.flushLocked(); err != nil {
		return err
	}

	summary := Summary{
		Session:      r.cfg.SessionName,
		StartedAt:    r.startedAt,
		EndedAt:      time.Now(),
		TotalSamples: r.total,
		Streams:      r.streams,
		Signal:       signal,
	}
	summary.Duration = summary.EndedAt.Sub(summary.StartedAt).String()

	if r.csvFile != nil {
		summary.Files = append(summary.Files, filepath.Join(r.dir, "samples.csv"))
		if err := r.csvFile.Close(); err != nil {
			return errors.WrapTransient(err, "recorder", "Close", "csv close")
		}
	}
	if r.jsonlFile != nil {
		summary.Files = append(summary.Files, filepath.Join(r.dir, "samples.jsonl"))
		if err := r.jsonlFile.Close(); err != nil {
			return errors.WrapTransient(err, "recorder", "Close", "jsonl close")
		}
	}

	if err := writeJSON(filepath.Join(r.dir, "metadata.json"), r.streams); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(r.dir, "summary.json"), summary); err != nil {
		return err
	}

	r.logger.Info("session closed",
		"samples", r.total,
		"streams", len(r.streams),
		"duration", summary.Duration)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "recorder", "writeJSON", "marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapTransient(err, "recorder", "writeJSON", "file write")
	}
	return nil
}

func joinValues(values []float64) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ";"
		}
		out += strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

// Validate checks recorder configuration.
func (c Config) Validate() error {
	if c.FlushEvery < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: flush_every must not be negative", errors.ErrInvalidConfig),
			"recorder", "Validate", "config check")
	}
	return nil
}
