package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiance-data/radiancefleet/internal/monitoring"
	"github.com/radiance-data/radiancefleet/internal/timeutil"
)

// SessionStats is the accumulated result of one streaming session.
type SessionStats struct {
	MessagesReceived int
	BatchStats
}

// streamMessage is the subscribed feed's wire shape.
type streamMessage struct {
	MessageType string `json:"MessageType"`
	MetaData    struct {
		MMSI     json.Number `json:"MMSI"`
		ShipName string      `json:"ShipName"`
		TimeUTC  string      `json:"time_utc"`
	} `json:"MetaData"`
	Message struct {
		PositionReport *struct {
			Latitude            float64 `json:"Latitude"`
			Longitude           float64 `json:"Longitude"`
			Sog                 float64 `json:"Sog"`
			Cog                 float64 `json:"Cog"`
			TrueHeading         float64 `json:"TrueHeading"`
			NavigationalStatus  int64   `json:"NavigationalStatus"`
		} `json:"PositionReport"`
		ShipStaticData *struct {
			ImoNumber int64  `json:"ImoNumber"`
			Type      int64  `json:"Type"`
			CallSign  string `json:"CallSign"`
			Dimension struct {
				A float64 `json:"A"`
				B float64 `json:"B"`
				C float64 `json:"C"`
				D float64 `json:"D"`
			} `json:"Dimension"`
		} `json:"ShipStaticData"`
	} `json:"Message"`
}

// subscribeMessage is sent once after connect.
type subscribeMessage struct {
	APIKey            string        `json:"APIKey"`
	BoundingBoxes     [][][]float64 `json:"BoundingBoxes"`
	FilterMessageTypes []string     `json:"FilterMessageTypes"`
}

// WSDialer abstracts the websocket dial for tests.
type WSDialer func(ctx context.Context, url string) (WSConn, error)

// WSConn is the subset of *websocket.Conn the session uses.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// DefaultDialer connects with gorilla/websocket.
func DefaultDialer(ctx context.Context, url string) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// StreamConfig parameterizes one streaming session.
type StreamConfig struct {
	URL           string
	APIKey        string
	BoundingBoxes [][][]float64
	// Duration caps the session; 0 means unlimited.
	Duration time.Duration
	// BatchInterval is the flush period for the two buffers.
	BatchInterval time.Duration
}

// Streamer runs websocket sessions against the AIS feed.
type Streamer struct {
	Ingestor *Ingestor
	Dial     WSDialer
	Clock    timeutil.Clock
}

// NewStreamer creates a Streamer with the production dialer.
func NewStreamer(ing *Ingestor) *Streamer {
	return &Streamer{Ingestor: ing, Dial: DefaultDialer, Clock: timeutil.RealClock{}}
}

// StreamFeed runs one session: subscribe, accumulate position and static
// buffers, flush every BatchInterval, and flush once more on exit. A
// disconnect ends the session gracefully with the stats accumulated so far;
// cancellation triggers a final flush before returning.
func (s *Streamer) StreamFeed(ctx context.Context, cfg StreamConfig) (SessionStats, error) {
	var stats SessionStats

	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 30 * time.Second
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	conn, err := s.Dial(ctx, cfg.URL)
	if err != nil {
		return stats, err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{
		APIKey:             cfg.APIKey,
		BoundingBoxes:      cfg.BoundingBoxes,
		FilterMessageTypes: []string{"PositionReport", "ShipStaticData"},
	}); err != nil {
		return stats, fmt.Errorf("subscribe: %w", err)
	}

	var positions []Record
	var statics []StaticRecord

	flush := func() {
		if len(positions) > 0 {
			bs, err := s.Ingestor.IngestBatch(ctx, positions)
			stats.BatchStats.add(bs)
			if err != nil {
				monitoring.Logf("stream: batch flush failed: %v", err)
				stats.Errors += len(positions)
			}
			positions = positions[:0]
		}
		if len(statics) > 0 {
			bs, err := s.Ingestor.IngestStatic(ctx, statics)
			stats.BatchStats.add(bs)
			if err != nil {
				monitoring.Logf("stream: static flush failed: %v", err)
				stats.Errors += len(statics)
			}
			statics = statics[:0]
		}
	}

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := s.Clock.NewTicker(cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return stats, nil
		case <-ticker.C():
			flush()
		case data, ok := <-msgs:
			if !ok {
				// Disconnect ends the session gracefully.
				select {
				case err := <-readErr:
					monitoring.Logf("stream: disconnected: %v", err)
				default:
				}
				flush()
				return stats, nil
			}
			stats.MessagesReceived++
			s.accumulate(data, &positions, &statics, &stats)
		}
	}
}

// accumulate parses one wire message into the appropriate buffer. In the
// streaming path an unparseable timestamp falls back to now instead of
// dropping the record.
func (s *Streamer) accumulate(data []byte, positions *[]Record, statics *[]StaticRecord, stats *SessionStats) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		stats.Errors++
		return
	}

	mmsi := msg.MetaData.MMSI.String()
	now := s.Clock.Now().UTC()
	tsRaw := msg.MetaData.TimeUTC
	if _, err := ParseTimestamp(tsRaw, now); err != nil {
		tsRaw = now.Format(time.RFC3339)
	}

	switch msg.MessageType {
	case "PositionReport":
		pr := msg.Message.PositionReport
		if pr == nil {
			stats.Errors++
			return
		}
		sog, cog := pr.Sog, pr.Cog
		heading := pr.TrueHeading
		nav := pr.NavigationalStatus
		*positions = append(*positions, Record{
			MMSI:         mmsi,
			TimestampRaw: tsRaw,
			Lat:          pr.Latitude,
			Lon:          pr.Longitude,
			SOG:          &sog,
			COG:          &cog,
			Heading:      &heading,
			NavStatus:    &nav,
			Source:       strPtr("stream"),
		})
	case "ShipStaticData":
		sd := msg.Message.ShipStaticData
		if sd == nil {
			stats.Errors++
			return
		}
		rec := StaticRecord{MMSI: mmsi}
		if msg.MetaData.ShipName != "" {
			rec.Name = strPtr(msg.MetaData.ShipName)
		}
		if sd.CallSign != "" {
			rec.Callsign = strPtr(sd.CallSign)
		}
		if sd.ImoNumber > 0 {
			rec.IMO = strPtr(fmt.Sprintf("%d", sd.ImoNumber))
		}
		if sd.Type > 0 {
			rec.VesselType = strPtr(fmt.Sprintf("%d", sd.Type))
		}
		if length := sd.Dimension.A + sd.Dimension.B; length > 0 && sd.Dimension.A > 0 && sd.Dimension.B > 0 {
			rec.LengthM = &length
		}
		if width := sd.Dimension.C + sd.Dimension.D; width > 0 && sd.Dimension.C > 0 && sd.Dimension.D > 0 {
			rec.WidthM = &width
		}
		*statics = append(*statics, rec)
	default:
		stats.Errors++
	}
}

func strPtr(s string) *string { return &s }
