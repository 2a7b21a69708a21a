package tradelog

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradeflow/internal/types"
)

const fileExt = ".jsonl"

// Journal is an append-only audit trail of executions, fills and closes,
// one JSON-lines file per session date.
type Journal struct {
	mu     sync.Mutex
	dir    string
	loc    *time.Location
	now    func() time.Time
	day    string
	file   *os.File
	logger *zap.Logger
}

var (
	defaultMu sync.RWMutex
	defaultJ  *Journal
)

// Init installs the process-wide journal. Until it is called every record
// function is a no-op.
func Init(dir string, loc *time.Location) *Journal {
	j := New(dir, loc)
	defaultMu.Lock()
	defaultJ = j
	defaultMu.Unlock()
	return j
}

func New(dir string, loc *time.Location) *Journal {
	if loc == nil {
		loc = time.UTC
	}
	return &Journal{dir: dir, loc: loc, now: time.Now, logger: zap.NewNop()}
}

func current() *Journal {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultJ
}

// Path is the journal file for the session date of t.
func (j *Journal) Path(t time.Time) string {
	return filepath.Join(j.dir, t.In(j.loc).Format("2006-01-02")+fileExt)
}

// writer returns the zap logger for today, rotating the file when the
// session date changes.
func (j *Journal) writer() (*zap.Logger, error) {
	now := j.now()
	day := now.In(j.loc).Format("2006-01-02")
	if day == j.day && j.file != nil {
		return j.logger, nil
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(j.Path(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if j.file != nil {
		_ = j.logger.Sync()
		_ = j.file.Close()
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "event"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), zapcore.InfoLevel)

	j.day, j.file, j.logger = day, f, zap.New(core)
	return j.logger, nil
}

func (j *Journal) write(event string, fields ...zap.Field) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.writer()
	if err != nil {
		return err
	}
	l.Info(event, fields...)
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	_ = j.logger.Sync()
	err := j.file.Close()
	j.file, j.day, j.logger = nil, "", zap.NewNop()
	return err
}

// Execution records the outcome of one decision.
func (j *Journal) Execution(d types.Decision, outcome, tradeID, brokerOrderID string) error {
	kind := ""
	if d.Action != nil {
		kind = string(d.Action.Kind())
	}
	return j.write("execution",
		zap.String("decision_id", d.ID),
		zap.String("symbol", d.Symbol),
		zap.String("action", kind),
		zap.String("outcome", outcome),
		zap.String("trade_id", tradeID),
		zap.String("broker_order_id", brokerOrderID),
		zap.String("remarks", d.Remarks),
	)
}

// Order records a protective or entry order placed at the venue.
func (j *Journal) Order(o types.Order, symbol string) error {
	return j.write("order",
		zap.String("trade_id", o.TradeID),
		zap.String("symbol", symbol),
		zap.String("role", string(o.Role)),
		zap.String("side", string(o.Side)),
		zap.Stringer("qty", o.Qty),
		zap.Stringer("limit_price", o.LimitPrice),
		zap.Stringer("stop_price", o.StopPrice),
		zap.String("broker_order_id", o.BrokerOrderID),
	)
}

// Fill records a fill observed at the venue.
func (j *Journal) Fill(o types.Order, symbol string) error {
	return j.write("fill",
		zap.String("trade_id", o.TradeID),
		zap.String("symbol", symbol),
		zap.String("role", string(o.Role)),
		zap.String("side", string(o.Side)),
		zap.String("status", string(o.Status)),
		zap.Stringer("filled_qty", o.FilledQty),
		zap.Stringer("filled_avg_price", o.FilledAvgPrice),
		zap.Time("filled_at", o.FilledAt),
		zap.String("broker_order_id", o.BrokerOrderID),
	)
}

// Closed records a trade leaving the book.
func (j *Journal) Closed(t types.Trade, c types.TradeClose) error {
	return j.write("close",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Stringer("entry", t.ActualEntry),
		zap.Stringer("qty", t.ActualQty),
		zap.Stringer("exit", c.ExitPrice),
		zap.Stringer("pnl", c.PnL),
		zap.String("reason", string(c.Reason)),
		zap.String("exit_order_id", c.ExitOrderID),
	)
}

func (j *Journal) Anomaly(a types.Anomaly, symbol string) error {
	return j.write("anomaly",
		zap.String("trade_id", a.TradeID),
		zap.String("order_id", a.OrderID),
		zap.String("symbol", symbol),
		zap.String("kind", string(a.Kind)),
		zap.String("detail", a.Detail),
	)
}

// The package-level helpers write to the journal installed by Init and
// drop the entry when there is none. Journal write failures never block
// trading bookkeeping.

func Execution(d types.Decision, outcome, tradeID, brokerOrderID string) {
	if j := current(); j != nil {
		_ = j.Execution(d, outcome, tradeID, brokerOrderID)
	}
}

func Order(o types.Order, symbol string) {
	if j := current(); j != nil {
		_ = j.Order(o, symbol)
	}
}

func Fill(o types.Order, symbol string) {
	if j := current(); j != nil {
		_ = j.Fill(o, symbol)
	}
}

func Closed(t types.Trade, c types.TradeClose) {
	if j := current(); j != nil {
		_ = j.Closed(t, c)
	}
}

func Anomaly(a types.Anomaly, symbol string) {
	if j := current(); j != nil {
		_ = j.Anomaly(a, symbol)
	}
}

// CompressOlder gzips journal files last modified more than retentionDays
// ago.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != fileExt {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
