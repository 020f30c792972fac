package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/arkilian/flowgraph/internal/storage"
)

// Generator defaults.
const (
	DefaultFiles          = 5
	DefaultRecordsPerFile = 100

	logGroup      = "/aws/website/ecommerce"
	eventInterval = 5 * time.Second
	lookback      = 10 * time.Minute
)

var (
	ipBlocks   = []string{"192.168.1.", "10.0.0.", "172.16.0."}
	methods    = []string{"GET", "POST"}
	pages      = []string{"/", "/products", "/products/123", "/products/345", "/checkout", "/about"}
	statuses   = []int{200, 200, 200, 404, 500}
	userAgents = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)",
	}
)

// Envelope is one CloudWatch-style log file.
type Envelope struct {
	Owner     string  `json:"owner"`
	LogGroup  string  `json:"logGroup"`
	LogStream string  `json:"logStream"`
	LogEvents []Event `json:"logEvents"`
}

// Event is one log event of an Envelope.
type Event struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Message   Message `json:"message"`
}

// Message is the structured web request carried by an Event.
type Message struct {
	IP             string `json:"ip"`
	Method         string `json:"method"`
	Page           string `json:"page"`
	Status         int    `json:"status"`
	UserAgent      string `json:"user_agent"`
	ResponseTimeMs int    `json:"response_time_ms"`
}

// Generator produces mock web traffic log files.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator. The same seed yields the same files for
// the same clock.
func NewGenerator(seed int64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: now}
}

// Envelope builds the envelope of file index with n events.
func (g *Generator) Envelope(index, n int) Envelope {
	start := g.now().Add(-lookback)
	env := Envelope{
		Owner:     g.uuid(),
		LogGroup:  logGroup,
		LogStream: fmt.Sprintf("web-traffic-%d", index),
		LogEvents: make([]Event, 0, n),
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * eventInterval)
		env.LogEvents = append(env.LogEvents, Event{
			ID:        g.uuid(),
			Timestamp: ts.UnixMilli(),
			Message: Message{
				IP:             ipBlocks[g.rng.Intn(len(ipBlocks))] + fmt.Sprint(1+g.rng.Intn(254)),
				Method:         methods[g.rng.Intn(len(methods))],
				Page:           pages[g.rng.Intn(len(pages))],
				Status:         statuses[g.rng.Intn(len(statuses))],
				UserAgent:      userAgents[g.rng.Intn(len(userAgents))],
				ResponseTimeMs: 20 + g.rng.Intn(1181),
			},
		})
	}
	return env
}

// FileName returns the object name of file index.
func FileName(index int) string {
	return fmt.Sprintf("web_logs_%d.json", index)
}

// Write stores files envelopes of records events each under prefix,
// starting at index first, and returns the object paths written.
func (g *Generator) Write(ctx context.Context, store storage.ObjectStorage, prefix string, first, files, records int) ([]string, error) {
	written := make([]string, 0, files)
	for i := first; i < first+files; i++ {
		data, err := json.MarshalIndent(g.Envelope(i, records), "", "  ")
		if err != nil {
			return written, err
		}
		p := path.Join(prefix, FileName(i))
		if err := store.Put(ctx, p, data); err != nil {
			return written, fmt.Errorf("write %s: %w", p, err)
		}
		written = append(written, p)
	}
	return written, nil
}

// EnsureSample generates sample files under prefix only when the prefix holds
// no objects. It reports whether files were generated.
func EnsureSample(ctx context.Context, store storage.ObjectStorage, prefix string, files, records int) (bool, error) {
	existing, err := store.ListObjects(ctx, prefix+"/")
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	if files <= 0 {
		files = DefaultFiles
	}
	if records <= 0 {
		records = DefaultRecordsPerFile
	}
	g := NewGenerator(time.Now().UnixNano(), nil)
	if _, err := g.Write(ctx, store, prefix, 0, files, records); err != nil {
		return false, err
	}
	log.Printf("traffic: generated %d file(s) x %d record(s) under %s", files, records, prefix)
	return true, nil
}

func (g *Generator) uuid() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
