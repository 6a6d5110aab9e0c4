package database

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arbwatch/internal/model"
)

const maxLineSize = 4 << 20

// Envelope is one line of a JSONL stream.
type Envelope struct {
	Exchange   string          `json:"exchange"`
	Instrument string          `json:"instrument"`
	Kind       string          `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// FileRepository appends records to snapshot-<kind>.jsonl files in dir.
type FileRepository struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &FileRepository{dir: dir, now: time.Now}, nil
}

func (r *FileRepository) path(kind string) string {
	return filepath.Join(r.dir, "snapshot-"+kind+".jsonl")
}

func (r *FileRepository) LogTicker(_ context.Context, t model.NormalizedTicker) error {
	return r.append(KindTicker, t.Exchange, t.Instrument, t)
}

func (r *FileRepository) LogOrderBook(_ context.Context, b model.NormalizedOrderBook) error {
	return r.append(KindOrderBook, b.Exchange, b.Instrument, b)
}

func (r *FileRepository) LogOpportunity(_ context.Context, o model.SpreadOpportunity) error {
	return r.append(KindOpportunity, o.BuyExchange+"->"+o.SellExchange, o.Instrument, o)
}

func (r *FileRepository) LogAlert(_ context.Context, a model.Alert) error {
	o := a.Opportunity
	return r.append(KindAlert, o.BuyExchange+"->"+o.SellExchange, o.Instrument, a)
}

func (r *FileRepository) append(kind, exchange, instrument string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	line, err := json.Marshal(Envelope{
		Exchange:   exchange,
		Instrument: instrument,
		Kind:       kind,
		RecordedAt: r.now().UTC(),
		Payload:    raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path(kind), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", kind, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", kind, err)
	}
	return f.Close()
}

// ListOpportunities reads back the opportunity stream. Lines that fail to
// decode are skipped so a torn final write does not hide the rest.
func (r *FileRepository) ListOpportunities(ctx context.Context, f OpportunityFilter) ([]model.SpreadOpportunity, error) {
	var out []model.SpreadOpportunity
	err := r.scan(ctx, KindOpportunity, func(env Envelope) {
		var o model.SpreadOpportunity
		if json.Unmarshal(env.Payload, &o) != nil {
			return
		}
		if f.Matches(o) {
			out = append(out, o)
		}
	})
	if err != nil {
		return nil, err
	}
	return SortByNetSpread(out, f.Limit), nil
}

// ListAlerts reads back the alert stream in append order.
func (r *FileRepository) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	var out []model.Alert
	err := r.scan(ctx, KindAlert, func(env Envelope) {
		var a model.Alert
		if json.Unmarshal(env.Payload, &a) == nil {
			out = append(out, a)
		}
	})
	return out, err
}

func (r *FileRepository) scan(ctx context.Context, kind string, fn func(Envelope)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s stream: %w", kind, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var env Envelope
		if json.Unmarshal(sc.Bytes(), &env) != nil || env.Kind != kind {
			continue
		}
		fn(env)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s stream: %w", kind, err)
	}
	return nil
}
